package http

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Success bool        `json:"success"`
	Code    int         `json:"code" example:"0"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data"`
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"title"`
	Message string                 `json:"message,omitempty" example:"title is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
