package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the contract operations. Transient ones are
// retried by the state machine with phase-specific backoff;
// ErrBlockHashUnavailable is fatal past the retention window.
var (
	ErrBlockNotReady        = errors.New("commit block not ready")
	ErrBlockHashUnavailable = errors.New("commit block hash unavailable")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNotAuthorized        = errors.New("not authorized")
)

// RevertError carries the revert detail of a failed transaction or
// call. It matches errors.Is(err, ErrReverted).
type RevertError struct {
	Detail string
}

// ErrReverted is the class marker for RevertError.
var ErrReverted = errors.New("reverted")

func (e *RevertError) Error() string {
	if e.Detail == "" {
		return "execution reverted"
	}
	return fmt.Sprintf("execution reverted: %s", e.Detail)
}

func (e *RevertError) Is(target error) bool { return target == ErrReverted }

// classifyError maps raw client errors onto the adapter's taxonomy by
// inspecting revert reasons and node error strings.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, err)
	case strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "only gamemaster"),
		strings.Contains(msg, "caller is not"):
		return fmt.Errorf("%w: %s", ErrNotAuthorized, err)
	case strings.Contains(msg, "block not ready"),
		strings.Contains(msg, "commit block not reached"),
		strings.Contains(msg, "too early"):
		return fmt.Errorf("%w: %s", ErrBlockNotReady, err)
	case strings.Contains(msg, "blockhash not available"),
		strings.Contains(msg, "block hash not available"),
		strings.Contains(msg, "blockhash expired"):
		return fmt.Errorf("%w: %s", ErrBlockHashUnavailable, err)
	case strings.Contains(msg, "execution reverted"):
		return &RevertError{Detail: err.Error()}
	default:
		return err
	}
}
