// Package events publishes one record per finished cell so other systems
// can follow a run while it is still going.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/k8ika0s/crossbuild/internal/invoker"
)

// Event is the outcome of one cell.
type Event struct {
	RunID       string `json:"run_id"`
	Cell        string `json:"cell"`
	Variant     string `json:"variant"`
	Triplet     string `json:"triplet"`
	Status      string `json:"status"`
	Summary     string `json:"summary,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Artifacts   int    `json:"artifacts"`
	DurationMS  int64  `json:"duration_ms"`
	Timestamp   int64  `json:"timestamp"`
}

// FromResult converts a cell result.
func FromResult(runID string, r invoker.Result) Event {
	return Event{
		RunID:       runID,
		Cell:        r.Cell.ID(),
		Variant:     r.Cell.Variant.Name,
		Triplet:     r.Cell.Triplet.String(),
		Status:      string(r.Status),
		Summary:     r.Summary(),
		Fingerprint: r.Fingerprint,
		Artifacts:   len(r.Artifacts),
		DurationMS:  r.Duration.Milliseconds(),
		Timestamp:   time.Now().Unix(),
	}
}

// Sink receives cell events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	List(ctx context.Context) ([]Event, error)
}

// NullSink drops events.
type NullSink struct{}

func (NullSink) Emit(context.Context, Event) error     { return nil }
func (NullSink) List(context.Context) ([]Event, error) { return nil, nil }

// Config selects and configures a sink.
type Config struct {
	Backend      string
	File         string
	RedisURL     string
	RedisKey     string
	KafkaBrokers string
	KafkaTopic   string
}

// New builds the sink named by cfg.Backend: file, redis, kafka or none.
func New(cfg Config) (Sink, error) {
	switch cfg.Backend {
	case "", "none":
		return NullSink{}, nil
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("events: file backend needs a path")
		}
		return NewFileSink(cfg.File), nil
	case "redis":
		return NewRedisSink(cfg.RedisURL, cfg.RedisKey), nil
	case "kafka":
		return NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("events: unknown backend %q", cfg.Backend)
	}
}
