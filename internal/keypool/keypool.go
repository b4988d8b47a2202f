// Package keypool tracks the health of upstream credentials.
// A credential can be short-blocked for a cooldown after a transient rate
// limit, or day-blocked until the next UTC calendar day once its quota is
// exhausted. Credentials are identified by their fingerprint only.
package keypool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/puter-gateway/internal/crypto"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/metrics"
)

// DefaultCooldown is how long a short block lasts.
const DefaultCooldown = 5 * time.Minute

const persistTimeout = 5 * time.Second

// PoolStore persists day blocks so they survive restarts and are shared
// between instances.
type PoolStore interface {
	LoadBlocked(ctx context.Context, date string) ([]string, error)
	AppendBlocked(ctx context.Context, date string, entry domain.BlockedCredential) error
}

type Config struct {
	Store    PoolStore
	Cooldown time.Duration
	Now      func() time.Time
	// OnDailyLimited runs after a credential is newly day-blocked.
	OnDailyLimited func(fingerprint, reason string)
}

type Pool struct {
	mu          sync.Mutex
	shortBlocks map[string]time.Time
	dayBlocks   map[string]struct{}
	currentDate string
	loadDone    chan struct{}

	store          PoolStore
	cooldown       time.Duration
	now            func() time.Time
	onDailyLimited func(fingerprint, reason string)

	pending sync.WaitGroup
}

func New(cfg Config) *Pool {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Pool{
		shortBlocks:    make(map[string]time.Time),
		dayBlocks:      make(map[string]struct{}),
		currentDate:    domain.Today(cfg.Now()),
		store:          cfg.Store,
		cooldown:       cfg.Cooldown,
		now:            cfg.Now,
		onDailyLimited: cfg.OnDailyLimited,
	}
}

// rollover clears the day-block set when the calendar day changed.
// Caller must hold p.mu.
func (p *Pool) rollover(now time.Time) {
	today := domain.Today(now)
	if today == p.currentDate {
		return
	}
	slog.Info("key pool date rollover", "from", p.currentDate, "to", today, "cleared", len(p.dayBlocks))
	p.currentDate = today
	p.dayBlocks = make(map[string]struct{})
	p.loadDone = nil
}

// LoadDailyBlocked seeds the day-block set from the store. Only the first
// successful call of each calendar day reads the store; concurrent callers
// wait for it. The read is detached from ctx so a caller that goes away
// does not cancel it for everyone else. A failed read is retried by the
// next call.
func (p *Pool) LoadDailyBlocked(ctx context.Context) {
	p.mu.Lock()
	p.rollover(p.now())
	if p.loadDone != nil {
		done := p.loadDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	p.loadDone = done
	date := p.currentDate
	p.mu.Unlock()

	defer close(done)

	if p.store == nil {
		return
	}

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	hashes, err := p.store.LoadBlocked(loadCtx, date)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		slog.Warn("failed to load blocked credentials", "date", date, "error", err)
		if p.loadDone == done {
			p.loadDone = nil
		}
		return
	}
	if p.currentDate != date {
		return
	}
	for _, h := range hashes {
		p.dayBlocks[h] = struct{}{}
	}
	if len(hashes) > 0 {
		slog.Info("loaded blocked credentials", "date", date, "count", len(hashes))
	}
}

// IsAvailable reports whether the credential is neither day-blocked nor
// inside its short cooldown. Expired short blocks are removed.
func (p *Pool) IsAvailable(credential string) bool {
	return p.isAvailableHash(crypto.Fingerprint(credential))
}

func (p *Pool) isAvailableHash(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.rollover(now)
	return p.availableLocked(hash, now)
}

func (p *Pool) availableLocked(hash string, now time.Time) bool {
	if _, blocked := p.dayBlocks[hash]; blocked {
		return false
	}
	if until, ok := p.shortBlocks[hash]; ok {
		if now.Before(until) {
			return false
		}
		delete(p.shortBlocks, hash)
	}
	return true
}

// MarkTempFailed short-blocks the credential for the cooldown period.
func (p *Pool) MarkTempFailed(credential string) {
	hash := crypto.Fingerprint(credential)

	p.mu.Lock()
	now := p.now()
	p.rollover(now)
	p.shortBlocks[hash] = now.Add(p.cooldown)
	p.mu.Unlock()

	metrics.RecordCredentialBlock("short")
	slog.Warn("credential short-blocked", "credential", hash, "cooldown", p.cooldown.String())
}

// MarkDailyLimited day-blocks the credential and persists the block in the
// background. The in-memory block is visible immediately.
func (p *Pool) MarkDailyLimited(credential, reason string) {
	hash := crypto.Fingerprint(credential)

	p.mu.Lock()
	now := p.now()
	p.rollover(now)
	_, already := p.dayBlocks[hash]
	p.dayBlocks[hash] = struct{}{}
	date := p.currentDate
	p.mu.Unlock()

	if already {
		return
	}

	metrics.RecordCredentialBlock("daily")
	slog.Warn("credential day-blocked", "credential", hash, "date", date, "reason", reason)

	entry := domain.BlockedCredential{Hash: hash, Reason: reason, FailedAt: now.UTC()}
	if p.store != nil {
		p.pending.Add(1)
		go p.persist(date, entry)
	}
	if p.onDailyLimited != nil {
		p.onDailyLimited(hash, reason)
	}
}

func (p *Pool) persist(date string, entry domain.BlockedCredential) {
	defer p.pending.Done()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := p.store.AppendBlocked(ctx, date, entry); err != nil {
		slog.Warn("pool store persist failed", "credential", entry.Hash, "date", date, "error", err)
	}
}

// Next returns the first available credential scanning from start and
// wrapping around the list.
func (p *Pool) Next(credentials []string, start int) (string, int, bool) {
	n := len(credentials)
	if n == 0 {
		return "", -1, false
	}
	if start < 0 {
		start = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.rollover(now)

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if p.availableLocked(crypto.Fingerprint(credentials[idx]), now) {
			return credentials[idx], idx, true
		}
	}
	return "", -1, false
}

type Snapshot struct {
	Date         string `json:"date"`
	ShortBlocked int    `json:"short_blocked"`
	DayBlocked   int    `json:"day_blocked"`
}

// Snapshot reports current block counts.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.rollover(now)

	short := 0
	for hash, until := range p.shortBlocks {
		if now.Before(until) {
			short++
		} else {
			delete(p.shortBlocks, hash)
		}
	}

	return Snapshot{Date: p.currentDate, ShortBlocked: short, DayBlocked: len(p.dayBlocks)}
}

// Wait blocks until background persistence finished or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
