package handlers

// Error codes for the read API envelope (ErrorResponse.Code). The appservice
// endpoints answer with Matrix errcodes instead, see middleware.MatrixError.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeListFailed = "list_failed"
)
