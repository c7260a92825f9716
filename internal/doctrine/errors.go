package doctrine

import "errors"

// Error taxonomy for the governance engine.
//
// These are deterministic outcomes of bad input or contention; the engine never
// retries them. Callers get enough context (wrapped rule id, expected vs actual
// version/status) to retry meaningfully.
var (
	ErrValidation        = errors.New("doctrine: validation failed")
	ErrNotFound          = errors.New("doctrine: not found")
	ErrState             = errors.New("doctrine: invalid state for operation")
	ErrDuplicateApproval = errors.New("doctrine: duplicate approval")
	ErrConflict          = errors.New("doctrine: version conflict")
	ErrUnauthorized      = errors.New("doctrine: actor identity required")
	ErrCancelled         = errors.New("doctrine: operation cancelled")
)
