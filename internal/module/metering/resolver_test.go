package metering

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/naigate/server/internal/shared/errors"
	"github.com/naigate/server/internal/shared/kv"
)

// spyStore counts reads so admin-precedence tests can assert the store is
// never touched.
type spyStore struct {
	*kv.MemoryStore
	gets int
}

func (s *spyStore) Get(ctx context.Context, key string) (string, error) {
	s.gets++
	return s.MemoryStore.Get(ctx, key)
}

func newTestResolver(t *testing.T, store kv.Store, adminToken string) (*Resolver, *QuotaLedger, *CreditStore) {
	t.Helper()
	var ledger *QuotaLedger
	var credits *CreditStore
	if store != nil {
		ledger = NewQuotaLedger(store, nil)
		ledger.now = fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
		credits = NewCreditStore(store)
	}
	resolver := NewResolver(ResolverConfig{
		AdminToken:    adminToken,
		Quotas:        ledger,
		Credits:       credits,
		GlobalLimit:   200,
		IdentityLimit: 5,
	})
	return resolver, ledger, credits
}

func TestResolver_AdminPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("admin bypasses store entirely", func(t *testing.T) {
		spy := &spyStore{MemoryStore: kv.NewMemoryStore()}
		resolver, _, _ := newTestResolver(t, spy, "secret-token")

		// Even with a card key presented and quotas in play, admin wins.
		dec, err := resolver.Resolve(ctx, Identity{
			SourceAddr: "1.2.3.4",
			AdminToken: "secret-token",
			CardKey:    "some-card",
		}, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, dec.Role)
		assert.Zero(t, spy.gets, "admin resolution must not read the store")
	})

	t.Run("token is trimmed before comparison", func(t *testing.T) {
		resolver, _, _ := newTestResolver(t, kv.NewMemoryStore(), "  secret-token\n")

		dec, err := resolver.Resolve(ctx, Identity{AdminToken: " secret-token "}, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, dec.Role)
	})

	t.Run("wrong token falls through", func(t *testing.T) {
		resolver, _, _ := newTestResolver(t, kv.NewMemoryStore(), "secret-token")

		dec, err := resolver.Resolve(ctx, Identity{SourceAddr: "1.2.3.4", AdminToken: "wrong"}, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleFree, dec.Role)
	})

	t.Run("empty configured token never grants admin", func(t *testing.T) {
		resolver, _, _ := newTestResolver(t, kv.NewMemoryStore(), "")

		dec, err := resolver.Resolve(ctx, Identity{SourceAddr: "1.2.3.4", AdminToken: ""}, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleFree, dec.Role)
	})
}

func TestResolver_VipCard(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown card rejected", func(t *testing.T) {
		resolver, _, _ := newTestResolver(t, kv.NewMemoryStore(), "secret")

		_, err := resolver.Resolve(ctx, Identity{CardKey: "nope"}, "novelai")
		assert.ErrorIs(t, err, apperrors.ErrInvalidCard)
		assert.Equal(t, http.StatusForbidden, apperrors.GetStatusCode(err))
	})

	t.Run("zero balance rejected", func(t *testing.T) {
		store := kv.NewMemoryStore()
		resolver, _, credits := newTestResolver(t, store, "secret")
		require.NoError(t, credits.SetBalance(ctx, "card-1", 0))

		_, err := resolver.Resolve(ctx, Identity{CardKey: "card-1"}, "novelai")
		assert.ErrorIs(t, err, apperrors.ErrCardExhausted)
		assert.Equal(t, http.StatusPaymentRequired, apperrors.GetStatusCode(err))
	})

	t.Run("malformed balance rejected as exhausted", func(t *testing.T) {
		store := kv.NewMemoryStore()
		resolver, _, _ := newTestResolver(t, store, "secret")
		require.NoError(t, store.Put(ctx, "card:card-1", "???", 0))

		_, err := resolver.Resolve(ctx, Identity{CardKey: "card-1"}, "novelai")
		assert.ErrorIs(t, err, apperrors.ErrCardExhausted)
	})

	t.Run("positive balance admitted with optimistic remaining", func(t *testing.T) {
		store := kv.NewMemoryStore()
		resolver, _, credits := newTestResolver(t, store, "secret")
		require.NoError(t, credits.SetBalance(ctx, "card-1", 10))

		dec, err := resolver.Resolve(ctx, Identity{CardKey: "card-1"}, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleVip, dec.Role)
		assert.Equal(t, "card-1", dec.CardID)
		assert.Equal(t, 9, dec.Remaining)
		assert.Equal(t, 10, dec.ObservedBalance())

		// Resolution alone must not deduct.
		balance, err := credits.Balance(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, 10, balance)
	})
}

func TestResolver_FreeTier(t *testing.T) {
	ctx := context.Background()
	id := Identity{SourceAddr: "1.2.3.4"}

	t.Run("admission increments both counters", func(t *testing.T) {
		// One under the global ceiling, identity at zero: admission bumps
		// 199 -> 200 and 0 -> 1.
		store := kv.NewMemoryStore()
		resolver, ledger, _ := newTestResolver(t, store, "secret")
		require.NoError(t, store.Put(ctx, "quota:novelai:global:2024-01-01", "199", 0))

		dec, err := resolver.Resolve(ctx, id, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleFree, dec.Role)

		ledger.Wait()

		global, err := ledger.Count(ctx, "novelai", ScopeGlobal)
		require.NoError(t, err)
		assert.Equal(t, 200, global)

		identity, err := ledger.Count(ctx, "novelai", IdentityScope("1.2.3.4"))
		require.NoError(t, err)
		assert.Equal(t, 1, identity)
	})

	t.Run("global ceiling rejected first", func(t *testing.T) {
		store := kv.NewMemoryStore()
		resolver, ledger, _ := newTestResolver(t, store, "secret")
		require.NoError(t, store.Put(ctx, "quota:novelai:global:2024-01-01", "200", 0))
		// Identity ceiling is also hit; the global rejection must win.
		require.NoError(t, store.Put(ctx, "quota:novelai:ip:1.2.3.4:2024-01-01", "5", 0))

		_, err := resolver.Resolve(ctx, id, "novelai")
		assert.ErrorIs(t, err, apperrors.ErrGlobalQuotaReached)
		assert.Equal(t, http.StatusTooManyRequests, apperrors.GetStatusCode(err))

		// Rejection leaves counters untouched.
		ledger.Wait()
		global, err := ledger.Count(ctx, "novelai", ScopeGlobal)
		require.NoError(t, err)
		assert.Equal(t, 200, global)
	})

	t.Run("identity ceiling", func(t *testing.T) {
		store := kv.NewMemoryStore()
		resolver, ledger, _ := newTestResolver(t, store, "secret")
		require.NoError(t, store.Put(ctx, "quota:novelai:ip:1.2.3.4:2024-01-01", "5", 0))

		_, err := resolver.Resolve(ctx, id, "novelai")
		assert.ErrorIs(t, err, apperrors.ErrQuotaReached)
		assert.Equal(t, http.StatusTooManyRequests, apperrors.GetStatusCode(err))

		ledger.Wait()
		identity, err := ledger.Count(ctx, "novelai", IdentityScope("1.2.3.4"))
		require.NoError(t, err)
		assert.Equal(t, 5, identity)
	})

	t.Run("sixth request of the day is rejected", func(t *testing.T) {
		store := kv.NewMemoryStore()
		resolver, ledger, _ := newTestResolver(t, store, "secret")

		for i := 0; i < 5; i++ {
			_, err := resolver.Resolve(ctx, id, "novelai")
			require.NoError(t, err)
			ledger.Wait()
		}

		_, err := resolver.Resolve(ctx, id, "novelai")
		assert.ErrorIs(t, err, apperrors.ErrQuotaReached)
	})

	t.Run("other identities are unaffected by a capped identity", func(t *testing.T) {
		store := kv.NewMemoryStore()
		resolver, ledger, _ := newTestResolver(t, store, "secret")
		require.NoError(t, store.Put(ctx, "quota:novelai:ip:1.2.3.4:2024-01-01", "5", 0))

		dec, err := resolver.Resolve(ctx, Identity{SourceAddr: "5.6.7.8"}, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleFree, dec.Role)
		ledger.Wait()
	})

	t.Run("no store fails open", func(t *testing.T) {
		resolver, _, _ := newTestResolver(t, nil, "secret")

		dec, err := resolver.Resolve(ctx, id, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleFree, dec.Role)
	})

	t.Run("card key without store falls back to free tier", func(t *testing.T) {
		resolver, _, _ := newTestResolver(t, nil, "secret")

		dec, err := resolver.Resolve(ctx, Identity{SourceAddr: "1.2.3.4", CardKey: "card-1"}, "novelai")
		require.NoError(t, err)
		assert.Equal(t, RoleFree, dec.Role)
	})
}
