// Package observability provides event schemas, metrics and tracing for text analysis.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event channels for Redis pub/sub
const (
	ChannelAnalysisCompleted = "events.termit.analysis_completed"
	ChannelAnalysisFailed    = "events.termit.analysis_failed"
	ChannelOccurrenceChanged = "events.termit.occurrence_changed"
)

// AnalysisEvent is emitted after a text analysis run finishes.
type AnalysisEvent struct {
	EventID      string    `json:"event_id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Resource     string    `json:"resource"`
	Vocabularies []string  `json:"vocabularies"`
	RequestedBy  string    `json:"requested_by,omitempty"`
	Occurrences  int       `json:"occurrences"`
	Removed      int       `json:"removed"`
	Skipped      int       `json:"skipped"`
	Promoted     int       `json:"promoted"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewAnalysisEvent creates an analysis event with a generated ID.
func NewAnalysisEvent(resource string, vocabularies []string, requestedBy string, durationMs int64) *AnalysisEvent {
	return &AnalysisEvent{
		EventID:      uuid.New().String(),
		Resource:     resource,
		Vocabularies: vocabularies,
		RequestedBy:  requestedBy,
		DurationMs:   durationMs,
		Timestamp:    time.Now(),
	}
}

// OccurrenceEvent is emitted when a person changes an occurrence.
type OccurrenceEvent struct {
	EventID    string    `json:"event_id"`
	Occurrence string    `json:"occurrence"`
	Resource   string    `json:"resource,omitempty"`
	Term       string    `json:"term,omitempty"`
	Action     string    `json:"action"`
	Count      int       `json:"count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Occurrence actions
const (
	OccurrenceActionConfirmed       = "confirmed"
	OccurrenceActionCreated         = "created"
	OccurrenceActionRemoved         = "removed"
	OccurrenceActionSuggestedPurged = "suggested_removed"
	OccurrenceActionAllPurged       = "all_removed"
)

// NewOccurrenceEvent creates an occurrence event with a generated ID.
func NewOccurrenceEvent(action, occurrence, resource, term string) *OccurrenceEvent {
	return &OccurrenceEvent{
		EventID:    uuid.New().String(),
		Occurrence: occurrence,
		Resource:   resource,
		Term:       term,
		Action:     action,
		Timestamp:  time.Now(),
	}
}

// EventPublisher publishes events to pub/sub channels.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event interface{}) error
	Close() error
}

// RedisEventPublisher publishes events to Redis.
type RedisEventPublisher struct {
	publish func(ctx context.Context, channel string, message interface{}) error
}

// NewRedisEventPublisher creates a publisher using a Redis publish function,
// usually a closure over (*redis.Client).Publish.
func NewRedisEventPublisher(publishFn func(ctx context.Context, channel string, message interface{}) error) *RedisEventPublisher {
	return &RedisEventPublisher{publish: publishFn}
}

// Publish marshals event to JSON and publishes it to channel.
func (p *RedisEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.publish(ctx, channel, string(data))
}

// Close implements EventPublisher.
func (p *RedisEventPublisher) Close() error {
	return nil
}

// NoOpEventPublisher discards all events.
type NoOpEventPublisher struct{}

// Publish implements EventPublisher.
func (p *NoOpEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	return nil
}

// Close implements EventPublisher.
func (p *NoOpEventPublisher) Close() error {
	return nil
}

// EventEmitter emits termit events through a publisher.
type EventEmitter struct {
	publisher EventPublisher
}

// NewEventEmitter creates a new event emitter. A nil publisher discards events.
func NewEventEmitter(publisher EventPublisher) *EventEmitter {
	if publisher == nil {
		publisher = &NoOpEventPublisher{}
	}
	return &EventEmitter{publisher: publisher}
}

// EmitAnalysis publishes event to the completed or failed channel depending on its error code.
func (e *EventEmitter) EmitAnalysis(ctx context.Context, event *AnalysisEvent) error {
	if event.TraceID == "" {
		event.TraceID = GetTraceID(ctx)
	}
	channel := ChannelAnalysisCompleted
	if event.ErrorCode != "" {
		channel = ChannelAnalysisFailed
	}
	return e.publisher.Publish(ctx, channel, event)
}

// EmitOccurrenceChanged publishes an occurrence event.
func (e *EventEmitter) EmitOccurrenceChanged(ctx context.Context, event *OccurrenceEvent) error {
	return e.publisher.Publish(ctx, ChannelOccurrenceChanged, event)
}

// Close closes the underlying publisher.
func (e *EventEmitter) Close() error {
	return e.publisher.Close()
}
