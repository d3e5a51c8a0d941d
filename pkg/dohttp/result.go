package dohttp

import "fmt"

// Failure codes reported by [Error.Code] when no HTTP status applies.
const (
	// CodeTransport covers malformed URLs and network failures (DNS, TCP,
	// TLS, timeouts).
	CodeTransport = -1

	// CodeNoResponse is reported when the transport returned neither a
	// response nor an error.
	CodeNoResponse = -2

	// CodeNoData is reported for a successful status with an empty body.
	CodeNoData = -3

	// CodeProcessing is reported when the response body could not be
	// turned into a result.
	CodeProcessing = -4
)

// Result is the outcome of a request. Exactly one of Success and Err is set.
type Result struct {
	Success *Success
	Err     *Error
}

// Success is a response with a 2xx status and a non-empty body.
type Success struct {
	StatusCode int

	// Object holds the members of a body that decoded to a JSON object.
	Object map[string]any

	// Data holds a decoded JSON array ([]any), or the body text when it is
	// not a JSON object or array. It is unused when Object is set.
	Data any
}

// Error describes a failed request.
type Error struct {
	Message string

	// Code is the HTTP status for non-2xx responses, and one of the
	// negative Code constants otherwise.
	Code int

	// ResponseBody is the raw body of a non-2xx response.
	ResponseBody *string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dohttp: %s (code %d)", e.Message, e.Code)
}

// Map renders the error as {success, message, code, responseBody?}.
func (e *Error) Map() map[string]any {
	m := map[string]any{
		"success": false,
		"message": e.Message,
		"code":    e.Code,
	}

	if e.ResponseBody != nil {
		m["responseBody"] = *e.ResponseBody
	}

	return m
}

// Map renders the success payload: the decoded object itself, or
// {success, data, code} for arrays and text.
func (s *Success) Map() map[string]any {
	if s.Object != nil {
		return s.Object
	}

	return map[string]any{
		"success": true,
		"data":    s.Data,
		"code":    s.StatusCode,
	}
}

// OK reports whether the request succeeded.
func (r *Result) OK() bool {
	return r.Success != nil
}

// Map renders whichever variant is set.
func (r *Result) Map() map[string]any {
	if r.Success != nil {
		return r.Success.Map()
	}
	return r.Err.Map()
}

func failure(code int, format string, args ...any) *Result {
	return &Result{Err: &Error{Message: fmt.Sprintf(format, args...), Code: code}}
}
