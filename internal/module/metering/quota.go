package metering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/naigate/server/internal/shared/kv"
)

// quotaTTL is the expiry applied to every counter write. Day rollover needs
// no cleanup logic: keys carry the UTC date and the store deletes them.
const quotaTTL = 24 * time.Hour

// incrementTimeout bounds the background write so a stuck store cannot pin
// goroutines forever.
const incrementTimeout = 5 * time.Second

// ScopeGlobal is the shared counter scope covering all callers.
const ScopeGlobal = "global"

// IdentityScope returns the per-caller counter scope for a source address.
func IdentityScope(sourceAddr string) string {
	return "ip:" + sourceAddr
}

// QuotaLedger tracks daily request counters in the key/value store. Counters
// are monotonically non-decreasing within a day; the read-then-write
// increment is not atomic, so a small bounded overshoot under concurrency
// is accepted.
type QuotaLedger struct {
	store  kv.Store
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewQuotaLedger creates a ledger over the given store.
func NewQuotaLedger(store kv.Store, logger *zap.Logger) *QuotaLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaLedger{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// quotaKey namespaces a counter by feature pool, scope and UTC calendar day.
func quotaKey(feature, scope, day string) string {
	return fmt.Sprintf("quota:%s:%s:%s", feature, scope, day)
}

// day returns the current UTC calendar day.
func (l *QuotaLedger) day() string {
	return l.now().UTC().Format("2006-01-02")
}

// Count returns today's counter for the scope, treating an absent key as
// zero.
func (l *QuotaLedger) Count(ctx context.Context, feature, scope string) (int, error) {
	val, err := l.store.Get(ctx, quotaKey(feature, scope, l.day()))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota %s/%s: %w", feature, scope, err)
	}

	count, err := strconv.Atoi(val)
	if err != nil || count < 0 {
		l.logger.Warn("malformed quota counter, treating as zero",
			zap.String("feature", feature),
			zap.String("scope", scope),
			zap.String("value", val))
		return 0, nil
	}
	return count, nil
}

// IncrementAsync bumps today's counter without blocking the caller. The
// write is tracked so Wait can drain it before shutdown; a failed write is
// logged as a degraded-mode condition, never surfaced.
func (l *QuotaLedger) IncrementAsync(feature, scope string) {
	day := l.day()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), incrementTimeout)
		defer cancel()

		if err := l.increment(ctx, feature, scope, day); err != nil {
			l.logger.Warn("quota increment failed",
				zap.String("feature", feature),
				zap.String("scope", scope),
				zap.Error(err))
		}
	}()
}

// increment performs the read-then-write counter bump. The TTL restarts at
// every write, keeping the key alive for 24 hours from the last request.
func (l *QuotaLedger) increment(ctx context.Context, feature, scope, day string) error {
	key := quotaKey(feature, scope, day)

	count := 0
	val, err := l.store.Get(ctx, key)
	if err == nil {
		if parsed, perr := strconv.Atoi(val); perr == nil && parsed > 0 {
			count = parsed
		}
	} else if !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("read counter: %w", err)
	}

	if err := l.store.Put(ctx, key, strconv.Itoa(count+1), quotaTTL); err != nil {
		return fmt.Errorf("write counter: %w", err)
	}
	return nil
}

// Wait blocks until every pending increment has completed. Called during
// graceful shutdown so asynchronous writes are never abandoned.
func (l *QuotaLedger) Wait() {
	l.wg.Wait()
}
