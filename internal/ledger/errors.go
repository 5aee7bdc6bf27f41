package ledger

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every failure the ledger surfaces wraps exactly one of
// these sentinels so callers can branch with errors.Is and map the kind
// to a transport status without parsing messages.
var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing user, promotion, event, or transaction.
	ErrNotFound = errors.New("not found")
	// ErrAuthorization marks an actor whose role or relationship forbids the operation.
	ErrAuthorization = errors.New("not authorized")
	// ErrInsufficientFunds marks a failed balance or point-pool check.
	ErrInsufficientFunds = errors.New("insufficient points")
	// ErrPromotionEligibility marks an inapplicable promotion reference.
	ErrPromotionEligibility = errors.New("promotion not applicable")
	// ErrConflict marks an operation that lost to a prior state change.
	ErrConflict = errors.New("conflicting state")
	// ErrConcurrency marks a lost atomic update the caller may retry whole.
	ErrConcurrency = errors.New("concurrent update lost")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("ledger: "+format+": %w", append(args, ErrValidation)...)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("ledger: "+format+": %w", append(args, ErrNotFound)...)
}

func authorizationf(format string, args ...any) error {
	return fmt.Errorf("ledger: "+format+": %w", append(args, ErrAuthorization)...)
}

func insufficientf(format string, args ...any) error {
	return fmt.Errorf("ledger: "+format+": %w", append(args, ErrInsufficientFunds)...)
}

func promotionf(format string, args ...any) error {
	return fmt.Errorf("ledger: "+format+": %w", append(args, ErrPromotionEligibility)...)
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("ledger: "+format+": %w", append(args, ErrConflict)...)
}

// HTTPStatus maps a ledger error kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPromotionEligibility),
		errors.Is(err, ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConcurrency):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
