package evaluator

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/rules"
)

// Velocity aggregates records per entity over a sliding time window and
// fires when the window count or sum crosses the configured limit.
// Results are deterministic regardless of arrival order: each entity's
// timeline is sorted by timestamp, ties broken by record id.
type Velocity struct{}

func (Velocity) Class() rules.Class { return rules.ClassVelocity }

func (Velocity) Evaluate(ctx context.Context, rule rules.Rule, records []adapter.EvaluationRecord) ([]RawMatch, error) {
	byEntity := make(map[string][]adapter.EvaluationRecord)
	for _, record := range records {
		byEntity[record.EntityID] = append(byEntity[record.EntityID], record)
	}

	entities := make([]string, 0, len(byEntity))
	for entity := range byEntity {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	var matches []RawMatch
	for _, entity := range entities {
		timeline := byEntity[entity]
		sort.Slice(timeline, func(i, j int) bool {
			if !timeline[i].Timestamp.Equal(timeline[j].Timestamp) {
				return timeline[i].Timestamp.Before(timeline[j].Timestamp)
			}
			return timeline[i].ID < timeline[j].ID
		})

		// Trailing window over the sorted timeline: start chases the
		// eviction boundary, so the whole entity costs O(n log n).
		start := 0
		windowSum := decimal.Zero
		for i, record := range timeline {
			windowSum = windowSum.Add(record.Amount)
			cutoff := record.Timestamp.Add(-rule.Params.Window)
			// A record exactly window old is still inside the window;
			// only strictly older entries are evicted.
			for start <= i && timeline[start].Timestamp.Before(cutoff) {
				windowSum = windowSum.Sub(timeline[start].Amount)
				start++
			}
			count := i - start + 1

			countExceeded := rule.Params.MaxCount > 0 && count > rule.Params.MaxCount
			sumExceeded := rule.Params.MaxSum.IsPositive() && windowSum.GreaterThan(rule.Params.MaxSum)
			if !countExceeded && !sumExceeded {
				continue
			}

			match := RawMatch{
				RuleID:      rule.ID,
				RecordID:    record.ID,
				EntityID:    entity,
				Table:       record.Table,
				WindowCount: count,
				Params: map[string]string{
					"window":       rule.Params.Window.String(),
					"window_count": fmt.Sprintf("%d", count),
					"window_sum":   windowSum.String(),
				},
			}
			if countExceeded {
				match.Observed = decimal.NewFromInt(int64(count))
				match.Limit = decimal.NewFromInt(int64(rule.Params.MaxCount))
				match.Params["max_count"] = fmt.Sprintf("%d", rule.Params.MaxCount)
				match.Evidence = append(match.Evidence,
					fmt.Sprintf("entity %s: %d transactions within %s ending at record %s, limit %d",
						entity, count, rule.Params.Window, record.ID, rule.Params.MaxCount))
			}
			if sumExceeded {
				if !countExceeded {
					match.Observed = windowSum
					match.Limit = rule.Params.MaxSum
				}
				match.Params["max_sum"] = rule.Params.MaxSum.String()
				match.Evidence = append(match.Evidence,
					fmt.Sprintf("entity %s: %s total volume within %s ending at record %s, limit %s",
						entity, windowSum.String(), rule.Params.Window, record.ID, rule.Params.MaxSum.String()))
			}
			matches = append(matches, match)
		}
	}
	return matches, nil
}
