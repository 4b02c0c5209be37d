package wagerdto

// ErrorResponse is returned with every non-2xx status. Error is the error kind
// (not_found, unauthorized, invalid_state, invalid_move, validation_error,
// insufficient_funds, internal).
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
