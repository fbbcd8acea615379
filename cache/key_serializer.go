package cache

import (
	"encoding"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// KeySeparator sits between the resource name and each serialized argument.
const KeySeparator = "::"

// defaultKeySerializer renders request parameters by reflection. Map entries
// are sorted, so params built in any insertion order share a key.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer returns the serializer behind QueryKey.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

func (s defaultKeySerializer) SerializeKey(resource string, args ...any) string {
	var b strings.Builder
	b.WriteString(resource)
	for _, arg := range args {
		b.WriteString(KeySeparator)
		writeValue(&b, arg)
	}
	return b.String()
}

func render(v any) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v any) {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		b.WriteString("nil")
		return
	}
	// time.Time and uuid.UUID keep their state in unexported fields.
	if tm, ok := v.(encoding.TextMarshaler); ok {
		if text, err := tm.MarshalText(); err == nil {
			b.Write(text)
			return
		}
	}

	switch rv.Kind() {
	case reflect.String:
		b.WriteString(rv.String())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		fmt.Fprintf(b, "%v", v)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("nil")
			return
		}
		writeValue(b, rv.Elem().Interface())
	case reflect.Func, reflect.Chan:
		fmt.Fprintf(b, "%s:%p", rv.Kind(), v)
	case reflect.Slice:
		if rv.IsNil() {
			b.WriteString("slice:nil")
			return
		}
		b.WriteString("slice")
		writeList(b, rv)
	case reflect.Array:
		b.WriteString("array")
		writeList(b, rv)
	case reflect.Map:
		if rv.IsNil() {
			b.WriteString("map:nil")
			return
		}
		writeMap(b, rv)
	case reflect.Struct:
		writeStruct(b, rv)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(b, "fallback:%T", v)
			return
		}
		b.WriteString("json:")
		b.Write(data)
	}
}

func writeList(b *strings.Builder, rv reflect.Value) {
	fmt.Fprintf(b, "[%d]:{", rv.Len())
	for i := range rv.Len() {
		if i > 0 {
			b.WriteByte(',')
		}
		writeValue(b, rv.Index(i).Interface())
	}
	b.WriteByte('}')
}

func writeMap(b *strings.Builder, rv reflect.Value) {
	entries := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, render(iter.Key().Interface())+"="+render(iter.Value().Interface()))
	}
	// sorted rendered entries do not depend on map iteration order
	slices.Sort(entries)
	fmt.Fprintf(b, "map[%d]:{%s}", len(entries), strings.Join(entries, ","))
}

func writeStruct(b *strings.Builder, rv reflect.Value) {
	rt := rv.Type()
	b.WriteString("struct:{")
	first := true
	for i := range rv.NumField() {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(field.Name + ":")
		writeValue(b, rv.Field(i).Interface())
	}
	b.WriteByte('}')
}
