package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// ErrInvalidFetchFn is returned when fetchFn is not a func(context.Context) (T, error).
var ErrInvalidFetchFn = errors.New("cache: invalid fetch function")

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// validateFetchFn checks that fetchFn is a func(context.Context) (T, error).
func validateFetchFn(fetchFn any) error {
	if fetchFn == nil {
		return fmt.Errorf("%w: cannot be nil", ErrInvalidFetchFn)
	}
	t := reflect.TypeOf(fetchFn)
	if t.Kind() != reflect.Func {
		return fmt.Errorf("%w: must be a function", ErrInvalidFetchFn)
	}
	if t.NumIn() != 1 || t.NumOut() != 2 {
		return fmt.Errorf("%w: must have signature func(context.Context) (T, error)", ErrInvalidFetchFn)
	}
	if !t.In(0).Implements(contextType) {
		return fmt.Errorf("%w: first parameter must be context.Context", ErrInvalidFetchFn)
	}
	if !t.Out(1).Implements(errorType) {
		return fmt.Errorf("%w: second return value must be error", ErrInvalidFetchFn)
	}
	return nil
}

// resultType returns T of a validated fetch function.
func resultType(fetchFn any) reflect.Type {
	return reflect.TypeOf(fetchFn).Out(0)
}

// callFetch invokes a validated fetch function.
func callFetch(ctx context.Context, fetchFn any) (any, error) {
	if fn, ok := fetchFn.(func(context.Context) (any, error)); ok {
		return fn(ctx)
	}
	out := reflect.ValueOf(fetchFn).Call([]reflect.Value{reflect.ValueOf(ctx)})

	var result any
	if out[0].IsValid() && out[0].CanInterface() {
		result = out[0].Interface()
	}
	if errV := out[1]; !errV.IsNil() {
		return result, errV.Interface().(error)
	}
	return result, nil
}
