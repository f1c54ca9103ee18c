package types

// SuccessEnvelope wraps every 2xx body. Paged listings put their next
// cursor inside Data.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError carries a circulation error code such as INVALID_STATE or
// UNPAID_FINE_BLOCKS_RESTORE. Details is present only for codes that allow it.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
