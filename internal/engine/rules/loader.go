package rules

import (
	"context"

	"go.uber.org/zap"
)

// Source supplies active rules, typically backed by the rule-extraction
// subsystem's API.
type Source interface {
	ActiveRules(ctx context.Context) ([]Rule, error)
}

// Loader pulls the active rule set and validates each rule. Rules that
// fail structural validation are excluded and reported; the rest of the
// batch loads normally.
type Loader struct {
	source Source
	logger *zap.Logger
}

func NewLoader(source Source, logger *zap.Logger) *Loader {
	return &Loader{source: source, logger: logger}
}

// Load returns the validated active rules along with the validation
// errors of any excluded rules.
func (l *Loader) Load(ctx context.Context) ([]Rule, []error, error) {
	all, err := l.source.ActiveRules(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		valid    []Rule
		excluded []error
	)
	for _, rule := range all {
		if !rule.Active {
			continue
		}
		if err := rule.Validate(); err != nil {
			l.logger.Warn("excluding invalid rule from scan",
				zap.String("rule_id", rule.ID),
				zap.String("class", string(rule.Class)),
				zap.Error(err))
			excluded = append(excluded, err)
			continue
		}
		valid = append(valid, rule)
	}

	l.logger.Info("rules loaded",
		zap.Int("active", len(valid)),
		zap.Int("excluded", len(excluded)))

	return valid, excluded, nil
}

// StaticSource is a fixed in-memory rule source, used in tests and for
// rule sets injected by the caller.
type StaticSource []Rule

func (s StaticSource) ActiveRules(ctx context.Context) ([]Rule, error) {
	return s, nil
}
