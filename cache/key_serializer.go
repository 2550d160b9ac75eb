package cache

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// KeySeparator separates method and arguments in cache keys.
const KeySeparator = "::"

type defaultKeySerializer struct{}

// NewDefaultKeySerializer returns a KeySerializer producing keys of the form
// "method::arg1::arg2" that are stable across runs.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

func (s defaultKeySerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return method
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)
	for _, arg := range args {
		parts = append(parts, s.value(reflect.ValueOf(arg)))
	}
	return strings.Join(parts, KeySeparator)
}

func (s defaultKeySerializer) value(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case time.Time:
			return x.UTC().Format(time.RFC3339Nano)
		case time.Duration:
			return x.String()
		case fmt.Stringer:
			if v.Kind() != reflect.Pointer || !v.IsNil() {
				return x.String()
			}
		}
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return "nil"
		}
		return s.value(v.Elem())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return "slice:nil"
		}
		items := make([]string, v.Len())
		for i := range items {
			items[i] = s.value(v.Index(i))
		}
		return fmt.Sprintf("[%d]{%s}", v.Len(), strings.Join(items, ","))
	case reflect.Map:
		if v.IsNil() {
			return "map:nil"
		}
		pairs := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			pairs = append(pairs, s.value(iter.Key())+"="+s.value(iter.Value()))
		}
		sort.Strings(pairs)
		return fmt.Sprintf("map[%d]{%s}", len(pairs), strings.Join(pairs, ","))
	case reflect.Struct:
		t := v.Type()
		fields := make([]string, 0, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			if f := t.Field(i); f.IsExported() {
				fields = append(fields, f.Name+":"+s.value(v.Field(i)))
			}
		}
		return "{" + strings.Join(fields, ",") + "}"
	case reflect.Func, reflect.Chan:
		return fmt.Sprintf("%s:%#x", v.Kind(), v.Pointer())
	default:
		return fmt.Sprint(v)
	}
}
