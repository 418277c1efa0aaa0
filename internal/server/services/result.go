package services

// Status classifies the outcome of an auth operation. Transports map it to
// their own codes.
type Status int

const (
	StatusOK Status = iota
	StatusCreated
	StatusBadRequest
	StatusUnauthorized
	StatusNotFound
	StatusConflict
	StatusInternalServerError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCreated:
		return "Created"
	case StatusBadRequest:
		return "BadRequest"
	case StatusUnauthorized:
		return "Unauthorized"
	case StatusNotFound:
		return "NotFound"
	case StatusConflict:
		return "Conflict"
	case StatusInternalServerError:
		return "InternalServerError"
	default:
		return "Unknown"
	}
}

// Result is what every AuthService operation returns: a status, a message
// safe to show to the caller, and a payload on success.
type Result[T any] struct {
	Status  Status
	Message string
	Data    T
}

// Succeeded reports whether the status is OK or Created.
func (r Result[T]) Succeeded() bool {
	return r.Status == StatusOK || r.Status == StatusCreated
}

func ok[T any](data T, msg string) Result[T] {
	return Result[T]{Status: StatusOK, Message: msg, Data: data}
}

func fail[T any](status Status, msg string) Result[T] {
	return Result[T]{Status: status, Message: msg}
}
