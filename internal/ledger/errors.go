package ledger

import (
	"errors"

	"github.com/openclub/kudos/internal/repository"
)

// ErrInvalidAmount rejects non-positive amounts on Award and Deduct.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrInsufficientBalance is the typed failure from Deduct. Re-exported
// from the repository so callers only import this package.
var ErrInsufficientBalance = repository.ErrInsufficientBalance
