// Package audit provides the append-only audit log for scan events and
// review-workflow transitions. Events are hash-chained so the log can be
// verified for tampering, and totally ordered per engine instance via a
// monotonic sequence.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActorSystem is the actor recorded for events the engine emits itself.
const ActorSystem = "system"

// EventType enumerates audited engine events.
type EventType string

const (
	EventScanStarted       EventType = "scan_started"
	EventScanCompleted     EventType = "scan_completed"
	EventSkippedRecord     EventType = "skipped_record"
	EventViolationDetected EventType = "violation_detected"
	EventReconfirmed       EventType = "reconfirmed"
	EventReviewTransition  EventType = "review_transition"
	EventPartitionFailed   EventType = "partition_failed"
)

// Event is an immutable audit log entry.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Type      EventType      `json:"type"`
	SubjectID string         `json:"subject_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Hash      string         `json:"hash"`
	PrevHash  string         `json:"prev_hash"`
}

// Filter selects events from the log.
type Filter struct {
	From      time.Time
	To        time.Time
	Types     []EventType
	SubjectID string
	Actor     string
	Limit     int
}

// Store persists audit events. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
	// Last returns the highest-sequence event, or nil when the store is
	// empty. The log resumes its sequence and hash chain from it.
	Last(ctx context.Context) (*Event, error)
}

// Publisher mirrors audit events to an external stream for the reporting
// collaborator. Publishing is best-effort; a publish failure never fails
// the append.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Log is the engine's audit log. Append order defines the total ordering
// guarantee, so all writes serialize through one mutex.
type Log struct {
	mu       sync.Mutex
	store    Store
	pub      Publisher
	logger   *zap.Logger
	loaded   bool
	seq      int64
	lastHash string
}

func NewLog(store Store, logger *zap.Logger) *Log {
	return &Log{store: store, logger: logger}
}

// SetPublisher attaches an external event mirror. Call before first use.
func (l *Log) SetPublisher(pub Publisher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pub = pub
}

// Record appends one event and returns it. The stored event carries the
// chain hash of all preceding events.
func (l *Log) Record(ctx context.Context, actor string, eventType EventType, subjectID string, payload map[string]any) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		if err := l.loadTail(ctx); err != nil {
			return Event{}, fmt.Errorf("load audit tail: %w", err)
		}
	}

	l.seq++
	event := Event{
		ID:        uuid.New(),
		Seq:       l.seq,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Type:      eventType,
		SubjectID: subjectID,
		Payload:   payload,
		PrevHash:  l.lastHash,
	}
	event.Hash = chainHash(event)

	if err := l.store.Append(ctx, &event); err != nil {
		l.seq--
		return Event{}, fmt.Errorf("append audit event: %w", err)
	}
	l.lastHash = event.Hash

	if l.pub != nil {
		if err := l.pub.Publish(ctx, event); err != nil {
			l.logger.Warn("audit event publish failed",
				zap.String("event_id", event.ID.String()),
				zap.String("type", string(eventType)),
				zap.Error(err))
		}
	}

	return event, nil
}

// loadTail resumes the sequence and hash chain from the store, so a
// restarted instance appends after the existing events instead of
// colliding with them.
func (l *Log) loadTail(ctx context.Context) error {
	last, err := l.store.Last(ctx)
	if err != nil {
		return err
	}
	if last != nil {
		l.seq = last.Seq
		l.lastHash = last.Hash
	}
	l.loaded = true
	return nil
}

// Query returns events matching the filter.
func (l *Log) Query(ctx context.Context, filter Filter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// chainHash computes the event hash over the previous hash and the
// event's identifying fields. json.Marshal sorts map keys, so the payload
// serialization is canonical.
func chainHash(event Event) string {
	payload, _ := json.Marshal(event.Payload)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s",
		event.PrevHash,
		event.Seq,
		event.Timestamp.Format(time.RFC3339Nano),
		event.Actor,
		event.Type,
		event.SubjectID,
		payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain checks hash continuity over a sequence of events ordered by
// Seq. It returns an error naming the first broken link.
func VerifyChain(events []Event) error {
	prev := ""
	for i, event := range events {
		if i > 0 {
			prev = events[i-1].Hash
		}
		if event.PrevHash != prev {
			return fmt.Errorf("audit chain broken at seq %d: prev_hash mismatch", event.Seq)
		}
		if chainHash(event) != event.Hash {
			return fmt.Errorf("audit chain broken at seq %d: hash mismatch", event.Seq)
		}
	}
	return nil
}
