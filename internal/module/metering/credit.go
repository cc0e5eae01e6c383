package metering

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/naigate/server/internal/shared/kv"
)

// Credit store errors.
var (
	// ErrCardNotFound means the card key has no account in the store.
	ErrCardNotFound = errors.New("card not found")
	// ErrBadBalance means the stored balance is not a number. Treated the
	// same as an exhausted card at admission.
	ErrBadBalance = errors.New("malformed card balance")
)

// CreditStore is the prepaid-credit ledger. Balances only ever decrease;
// the admission check keeps them from going negative.
type CreditStore struct {
	store kv.Store
}

// NewCreditStore creates a credit store over the given key/value store.
func NewCreditStore(store kv.Store) *CreditStore {
	return &CreditStore{store: store}
}

func cardKey(cardID string) string {
	return "card:" + cardID
}

// Balance returns the card's current balance, ErrCardNotFound when the
// account is absent, or ErrBadBalance when the stored value is not numeric.
func (s *CreditStore) Balance(ctx context.Context, cardID string) (int, error) {
	val, err := s.store.Get(ctx, cardKey(cardID))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, ErrCardNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read card %s: %w", cardID, err)
	}

	balance, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("card %s: %w", cardID, ErrBadBalance)
	}
	return balance, nil
}

// Settle deducts one credit for a completed generation, writing
// observedBalance-1 without re-reading. Two concurrent uses of the same card
// can therefore both settle against the same observed balance; admission
// already guaranteed the balance was positive, so the overshoot is bounded
// to a single credit per concurrent request. Runs at most once per
// successful generation.
func (s *CreditStore) Settle(ctx context.Context, cardID string, observedBalance int) error {
	return s.store.Put(ctx, cardKey(cardID), strconv.Itoa(observedBalance-1), 0)
}

// SetBalance writes a card balance directly. Backs the admin card
// management endpoints.
func (s *CreditStore) SetBalance(ctx context.Context, cardID string, balance int) error {
	return s.store.Put(ctx, cardKey(cardID), strconv.Itoa(balance), 0)
}
