// Package fetcher runs the per-subject pipeline against the trade registry
// portal and persists what it finds, one subject at a time.
package fetcher

import (
	"context"
	"time"
	"tradereg/internal/components/assert"
	"tradereg/internal/components/chrono"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/recordstore"
	"tradereg/lib/registry"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/fetcher")

// BasicSource reads the identity record of a subject on a session of its
// own, see tradeportal.BasicFetcher.
type BasicSource interface {
	Fetch(ctx context.Context, id registry.SubjectID) (registry.IdentityRecord, error)
}

// GradeSource reads the grade rows of a subject on a session of its own, see
// tradeportal.GradeFetcher.
type GradeSource interface {
	Fetch(ctx context.Context, id registry.SubjectID) ([]registry.GradeRecord, error)
}

// RecordStore is the part of recordstore.Store the pipeline writes through.
type RecordStore interface {
	EnsureSchema(ctx context.Context) error
	SaveRecord(ctx context.Context, rec registry.IdentityRecord, grades []registry.GradeRecord) error
	AppendError(ctx context.Context, entry registry.ErrorEntry) error
	MarkError(ctx context.Context, id registry.SubjectID, at time.Time) error
	Close() error
}

// StoreOpener opens a store handle for one subject.
type StoreOpener func(ctx context.Context) (RecordStore, error)

// OpenRecordStore is a StoreOpener backed by recordstore.Open.
func OpenRecordStore(cfg recordstore.Config) StoreOpener {
	return func(ctx context.Context) (RecordStore, error) {
		store, err := recordstore.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// Pacer spaces out subjects in a batch.
type Pacer interface {
	Pause(ctx context.Context) error
}

type PacingConfig struct {
	// Every is the number of subjects between two pauses.
	Every      int     `json:"every"`
	MinSeconds float64 `json:"min_seconds"`
	MaxSeconds float64 `json:"max_seconds"`
}

var DefaultPacing = PacingConfig{
	Every:      3,
	MinSeconds: 5,
	MaxSeconds: 15,
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c PacingConfig) Pacer() RandomPacer {
	return RandomPacer{Min: seconds(c.MinSeconds), Max: seconds(c.MaxSeconds)}
}

// RandomPacer pauses for a random whole number of seconds in [Min, Max].
type RandomPacer struct {
	Min time.Duration
	Max time.Duration
}

func (p RandomPacer) Duration() time.Duration {
	lo := int((p.Min + time.Second - 1) / time.Second)
	hi := int(p.Max / time.Second)
	if hi <= lo {
		return p.Min
	}
	n, err := random.IntRange(lo, hi+1)
	if err != nil {
		return p.Min
	}
	return time.Duration(n) * time.Second
}

func (p RandomPacer) Pause(ctx context.Context) error {
	d := p.Duration()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type ServiceOptions struct {
	Basic  BasicSource
	Grades GradeSource
	// OpenStore may be nil, nothing is persisted then.
	OpenStore StoreOpener
	Telemetry telemetry.API
	Clock     chrono.API
	Pacing    PacingConfig
	// Pacer defaults to Pacing.Pacer().
	Pacer Pacer
}

type Service struct {
	basic     BasicSource
	grades    GradeSource
	openStore StoreOpener
	tel       telemetry.API
	clock     chrono.API
	every     int
	pacer     Pacer
}

func NewService(opts ServiceOptions) Service {
	assert.NotNil(opts.Basic, "basic source")
	assert.NotNil(opts.Grades, "grade source")
	assert.NotNil(opts.Telemetry, "telemetry")
	assert.NotNil(opts.Clock, "clock")

	every := opts.Pacing.Every
	if every <= 0 {
		every = DefaultPacing.Every
	}
	pacer := opts.Pacer
	if pacer == nil {
		pacer = opts.Pacing.Pacer()
	}

	return Service{
		basic:     opts.Basic,
		grades:    opts.Grades,
		openStore: opts.OpenStore,
		tel:       telemetry.NewScopedAPI("fetcher", opts.Telemetry),
		clock:     opts.Clock,
		every:     every,
		pacer:     pacer,
	}
}
