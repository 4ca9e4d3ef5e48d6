// Package panicerr converts panics raised by user-supplied work into errors.
package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Call runs fn and returns its result. A panic inside fn is recovered and
// returned as an error carrying the panic value and stack.
func Call[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var (
		catcher panics.Catcher
		result  T
		err     error
	)
	catcher.Try(func() {
		result, err = fn(ctx)
	})
	if r := catcher.Recovered(); r != nil {
		var zero T
		return zero, r.AsError()
	}
	return result, err
}
