package middlewares

// gin context keys set by these middlewares.
const (
	CtxRequestID = "request_id"
)
