package rpckit

// Status tags the variant held by a Result.
type Status uint8

const (
	StatusLoading Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "loading"
	}
}

// Result is the ApiResult union handed to domain callers: Success carries
// data, Error carries a display message and the underlying cause, Loading is
// an explicit in-flight marker that the dispatcher itself never produces.
type Result[T any] struct {
	status  Status
	data    T
	message string
	cause   error
}

func Success[T any](data T) Result[T] {
	return Result[T]{status: StatusSuccess, data: data}
}

func Failure[T any](message string, cause error) Result[T] {
	if message == "" && cause != nil {
		message = userMessage(cause)
	}
	return Result[T]{status: StatusError, message: message, cause: cause}
}

func Loading[T any]() Result[T] {
	return Result[T]{status: StatusLoading}
}

// ResultOf wraps a (value, error) pair.
func ResultOf[T any](data T, err error) Result[T] {
	if err != nil {
		return Failure[T]("", err)
	}
	return Success(data)
}

func (r Result[T]) Status() Status  { return r.status }
func (r Result[T]) IsSuccess() bool { return r.status == StatusSuccess }
func (r Result[T]) IsError() bool   { return r.status == StatusError }
func (r Result[T]) IsLoading() bool { return r.status == StatusLoading }
func (r Result[T]) Data() T         { return r.data }
func (r Result[T]) Message() string { return r.message }
func (r Result[T]) Err() error      { return r.cause }

// Kind classifies the failure; empty for Success and Loading.
func (r Result[T]) Kind() Kind {
	if r.status != StatusError {
		return ""
	}
	if r.cause == nil {
		return KindApplication
	}
	return KindOf(r.cause)
}

func (r Result[T]) IsAuthError() bool {
	return r.Kind() == KindAuth
}

// Unwrap converts back to Go's (value, error) form.
func (r Result[T]) Unwrap() (T, error) {
	switch r.status {
	case StatusSuccess:
		return r.data, nil
	case StatusError:
		if r.cause != nil {
			return r.data, r.cause
		}
		return r.data, NewCallError(KindApplication, "", errorString(r.message))
	default:
		var zero T
		return zero, errorString("result is still loading")
	}
}

// MapResult transforms the success value, passing Error and Loading through.
func MapResult[T, U any](r Result[T], fn func(T) U) Result[U] {
	switch r.status {
	case StatusSuccess:
		return Success(fn(r.data))
	case StatusError:
		return Result[U]{status: StatusError, message: r.message, cause: r.cause}
	default:
		return Loading[U]()
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
