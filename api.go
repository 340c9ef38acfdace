package sceneshare

import (
	"context"
	"reflect"

	gen "github.com/unkn0wn-root/sceneshare/genstore"
)

// BuildFunc constructs a shared object. It runs at most once per key and is
// never cancelled by callers that stop waiting for it.
type BuildFunc func(ctx context.Context) (any, error)

// Destroyable is implemented by payloads holding externally managed
// resources. Destroy is called exactly once, when the entry is pruned or the
// Share is closed.
type Destroyable interface {
	Destroy()
}

// Options tune the Share. All fields are optional.
type Options struct {
	Logger   Logger       // if nil, NopLogger is used
	Hooks    Hooks        // if nil, NopHooks is used
	GenStore gen.GenStore // nil => LocalGenStore (in-process)
	GenKey   string       // generation counter key inside GenStore; "" => "scene"
}

func New(opts Options) (*Share, error) {
	return newShare(opts)
}

// Ensure is the typed form of Share.EnsureObject.
func Ensure[T any](ctx context.Context, s *Share, key string, build func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := s.EnsureObject(ctx, key, func(ctx context.Context) (any, error) {
		return build(ctx)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Key:  key,
			Want: reflect.TypeFor[T]().String(),
			Got:  reflect.TypeOf(v).String(),
		}
	}
	return t, nil
}
