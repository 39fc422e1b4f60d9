package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// Ledger owns credit balances. Every charge goes through Charge inside the
// caller's write transaction.
type Ledger struct {
	db *db.DB
}

// NewLedger returns a ledger over store.
func NewLedger(store *db.DB) *Ledger {
	return &Ledger{db: store}
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	u, err := l.db.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return 0, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return 0, err
	}
	return u.Credits, nil
}

// SetBalance overwrites the user's balance and returns the balance it
// replaced. Read and write share one transaction.
func (l *Ledger) SetBalance(ctx context.Context, userID, credits int64) (int64, error) {
	if credits < 0 {
		return 0, fmt.Errorf("%w: credits cannot be negative", ErrValidation)
	}
	var previous int64
	err := l.db.WithTx(ctx, func(tx *db.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		previous = u.Credits
		return tx.SetCredits(ctx, userID, credits)
	})
	if errors.Is(err, db.ErrUserNotFound) {
		return 0, fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if err != nil {
		return 0, err
	}
	return previous, nil
}

// Charge takes one credit from the user inside tx and returns the new
// balance. A balance that is already zero is a quota failure and leaves
// nothing changed.
func (l *Ledger) Charge(ctx context.Context, tx *db.Tx, userID int64) (int64, error) {
	remaining, err := tx.DebitCredit(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrInsufficientCredits) {
			return 0, fmt.Errorf("%w: user %d has no credits left", ErrQuotaExceeded, userID)
		}
		return 0, err
	}
	return remaining, nil
}
