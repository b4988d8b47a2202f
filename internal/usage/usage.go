// Package usage delivers usage records to their sinks.
package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/metrics"
)

var ErrBufferFull = errors.New("usage buffer full")

// Recorder accepts one usage record.
type Recorder interface {
	Record(ctx context.Context, record domain.UsageRecord) error
}

// BatchSink persists a batch of usage records.
type BatchSink interface {
	RecordBatch(ctx context.Context, records []domain.UsageRecord) error
}

type InMemoryRecorder struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

func (r *InMemoryRecorder) Record(ctx context.Context, record domain.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *InMemoryRecorder) RecordBatch(ctx context.Context, records []domain.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

func (r *InMemoryRecorder) Records() []domain.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UsageRecord, len(r.records))
	copy(out, r.records)
	return out
}

// TokenCounter maintains lifetime token totals per tenant.
type TokenCounter interface {
	AddTokenUsage(ctx context.Context, tenantID string, promptTokens, completionTokens int) error
}

// TenantTotals adds successful records to the owning tenant's lifetime
// counters. Records without a tenant (direct-token calls) are skipped.
type TenantTotals struct {
	counter TokenCounter
}

func NewTenantTotals(counter TokenCounter) *TenantTotals {
	return &TenantTotals{counter: counter}
}

func (t *TenantTotals) RecordBatch(ctx context.Context, records []domain.UsageRecord) error {
	var errs []error
	for _, r := range records {
		if !r.Success || r.TenantID == "" {
			continue
		}
		if err := t.counter.AddTokenUsage(ctx, r.TenantID, r.PromptTokens, r.CompletionTokens); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fanout delivers every batch to all sinks. A failing sink does not stop
// the others.
type Fanout []BatchSink

func (f Fanout) RecordBatch(ctx context.Context, records []domain.UsageRecord) error {
	var errs []error
	for _, sink := range f {
		if err := sink.RecordBatch(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type AsyncConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		BufferSize:    1024,
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
	}
}

// AsyncRecorder buffers records in a bounded channel and flushes them to
// the sink in batches from Run. Record never blocks; when the buffer is
// full the record is dropped and counted.
type AsyncRecorder struct {
	records   chan domain.UsageRecord
	sink      BatchSink
	batchSize int
	interval  time.Duration
}

func NewAsyncRecorder(sink BatchSink, cfg AsyncConfig) *AsyncRecorder {
	def := DefaultAsyncConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &AsyncRecorder{
		records:   make(chan domain.UsageRecord, cfg.BufferSize),
		sink:      sink,
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
	}
}

func (r *AsyncRecorder) Record(ctx context.Context, record domain.UsageRecord) error {
	select {
	case r.records <- record:
		return nil
	default:
		metrics.RecordUsageDropped()
		slog.Warn("usage record dropped",
			"tenant_id", record.TenantID,
			"request_id", record.RequestID,
		)
		return ErrBufferFull
	}
}

// Run flushes batches until ctx is done, then drains the buffer.
func (r *AsyncRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	batch := make([]domain.UsageRecord, 0, r.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.sink.RecordBatch(ctx, batch); err != nil {
			slog.Error("usage flush failed", "records", len(batch), "error", err)
		}
		batch = make([]domain.UsageRecord, 0, r.batchSize)
	}

	for {
		select {
		case rec := <-r.records:
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			for {
				select {
				case rec := <-r.records:
					batch = append(batch, rec)
					if len(batch) >= r.batchSize {
						flush(drainCtx)
					}
				default:
					flush(drainCtx)
					return nil
				}
			}
		}
	}
}
