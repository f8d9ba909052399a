package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
)

// Caller is the minimal surface the typed helpers and services need. The
// Dispatcher and the manager both satisfy it.
type Caller interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// Decode converts a raw result into T. Scalars, objects and homogeneous
// lists are all plain JSON values, so one decoder covers every shape.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if rpckit.IsNullResult(raw) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decode result as %T: %v", rpckit.ErrProtocol, out, err)
	}
	return out, nil
}

// CallAs performs method and decodes its result into T.
func CallAs[T any](ctx context.Context, c Caller, method string, params ...any) (T, error) {
	return CallWith(ctx, c, Decode[T], method, params...)
}

// CallWith is CallAs with a caller-supplied decoder, for results whose shape
// depends on the method rather than on T alone.
func CallWith[T any](ctx context.Context, c Caller, decode func(json.RawMessage) (T, error), method string, params ...any) (T, error) {
	var zero T
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return zero, err
	}
	out, err := decode(raw)
	if err != nil {
		return zero, rpckit.NewCallError(rpckit.KindProtocol, method, err)
	}
	return out, nil
}

// CallWithResult never returns an error: every failure is folded into the
// Result.
func CallWithResult[T any](ctx context.Context, c Caller, method string, params ...any) rpckit.Result[T] {
	return rpckit.ResultOf(CallAs[T](ctx, c, method, params...))
}
