package metering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naigate/server/internal/shared/kv"
)

func TestCreditStore_Balance(t *testing.T) {
	ctx := context.Background()

	t.Run("absent card", func(t *testing.T) {
		credits := NewCreditStore(kv.NewMemoryStore())
		_, err := credits.Balance(ctx, "missing")
		assert.ErrorIs(t, err, ErrCardNotFound)
	})

	t.Run("numeric balance", func(t *testing.T) {
		store := kv.NewMemoryStore()
		credits := NewCreditStore(store)
		require.NoError(t, credits.SetBalance(ctx, "card-1", 42))

		balance, err := credits.Balance(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, 42, balance)
	})

	t.Run("malformed balance", func(t *testing.T) {
		store := kv.NewMemoryStore()
		credits := NewCreditStore(store)
		require.NoError(t, store.Put(ctx, "card:card-1", "not-a-number", 0))

		_, err := credits.Balance(ctx, "card-1")
		assert.ErrorIs(t, err, ErrBadBalance)
	})
}

func TestCreditStore_Settle(t *testing.T) {
	ctx := context.Background()
	credits := NewCreditStore(kv.NewMemoryStore())
	require.NoError(t, credits.SetBalance(ctx, "card-1", 5))

	require.NoError(t, credits.Settle(ctx, "card-1", 5))

	balance, err := credits.Balance(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, 4, balance)
}

func TestCreditStore_SettleWritesObservedMinusOne(t *testing.T) {
	// Settlement writes observed-1 unconditionally, even if the stored
	// balance moved since admission.
	ctx := context.Background()
	credits := NewCreditStore(kv.NewMemoryStore())
	require.NoError(t, credits.SetBalance(ctx, "card-1", 3))

	// Another request settled in between.
	require.NoError(t, credits.SetBalance(ctx, "card-1", 2))

	require.NoError(t, credits.Settle(ctx, "card-1", 3))

	balance, err := credits.Balance(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, 2, balance)
}
