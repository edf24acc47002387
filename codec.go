package bidi

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/tidwall/sjson"
)

// Object is the generic key/value wire representation of a payload.
type Object map[string]any

// defaulter is implemented by parameter types that fill in protocol
// defaults before they are put on the wire.
type defaulter interface {
	withDefaults() any
}

var optionalType = reflect.TypeFor[optional]()

// fieldInfo describes one struct field as the codec sees it.
type fieldInfo struct {
	index    []int
	name     string // name used by the json package (tag name or Go name)
	key      string // wire key: name with one leading marker stripped
	required bool
	optional bool
	unknown  bool
}

var fieldCache sync.Map // reflect.Type -> []fieldInfo

func structFields(t reflect.Type) []fieldInfo {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]fieldInfo)
	}

	fields := make([]fieldInfo, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if hasTagOption(opts, "unknown") {
			fields = append(fields, fieldInfo{index: sf.Index, unknown: true})
			continue
		}
		if name == "" {
			name = sf.Name
		}
		info := fieldInfo{
			index:    sf.Index,
			name:     name,
			key:      sanitizeKey(name),
			optional: sf.Type.Implements(optionalType),
		}
		info.required = !info.optional &&
			sf.Type.Kind() != reflect.Pointer &&
			!hasTagOption(opts, "omitzero") &&
			!hasTagOption(opts, "omitempty")
		fields = append(fields, info)
	}

	fieldCache.Store(t, fields)
	return fields
}

func hasTagOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

// sanitizeKey strips a single leading underscore, the marker used to keep
// field names clear of reserved words.
func sanitizeKey(name string) string {
	return strings.TrimPrefix(name, "_")
}

// Encode converts a struct (or pointer to struct) into a sparse wire object.
// Fields are visited in declaration order. Zero values, empty slices and
// empty maps are omitted, so an explicit false or 0 is indistinguishable from
// unset unless the field is an Opt.
func Encode(v any) (Object, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, NewMalformedPayload(fmt.Sprintf("%T", v), "nil value")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, NewMalformedPayload(fmt.Sprintf("%T", v), "not a struct")
	}
	return encodeStruct(rv), nil
}

func encodeStruct(rv reflect.Value) Object {
	if rv.CanInterface() {
		if d, ok := rv.Interface().(defaulter); ok {
			rv = reflect.ValueOf(d.withDefaults())
		}
	}

	obj := make(Object)
	for _, f := range structFields(rv.Type()) {
		if f.unknown {
			continue
		}
		fv := rv.FieldByIndex(f.index)
		if f.optional {
			val, set := fv.Interface().(optional).optionalValue()
			if set {
				obj[f.key] = encodeValue(reflect.ValueOf(val))
			}
			continue
		}
		if isEmptyValue(fv) {
			continue
		}
		obj[f.key] = encodeValue(fv)
	}
	return obj
}

func encodeValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return encodeValue(v.Elem())
	case reflect.Struct:
		if v.Type().Implements(optionalType) {
			val, set := v.Interface().(optional).optionalValue()
			if !set {
				return nil
			}
			return encodeValue(reflect.ValueOf(val))
		}
		return encodeStruct(v)
	case reflect.Slice, reflect.Array:
		elem := v.Type().Elem()
		for elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.Struct {
			return v.Interface()
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = encodeValue(v.Index(i))
		}
		return out
	}
	return v.Interface()
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	}
	return v.IsZero()
}

// Decode fills target from a wire object. Missing required fields and
// members the target does not declare fail with a MalformedPayloadError.
// Targets that declare a `json:",unknown"` field collect unknown members
// there instead of failing.
func Decode(data []byte, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return NewMalformedPayload(fmt.Sprintf("%T", target), "target must be a non-nil pointer")
	}
	t := rv.Type().Elem()
	shape := t.Name()
	if shape == "" {
		shape = t.String()
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return NewMalformedPayload(shape, "empty payload")
	}

	if t.Kind() == reflect.Struct {
		normalized, err := normalizeMembers(t, data, shape)
		if err != nil {
			return err
		}
		data = normalized
	}

	if err := json.Unmarshal(data, target, json.RejectUnknownMembers(true)); err != nil {
		return WrapMalformedPayload(shape, err)
	}
	return nil
}

// DecodeObject is Decode for an already parsed wire object.
func DecodeObject(obj Object, target any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return WrapMalformedPayload(fmt.Sprintf("%T", target), err)
	}
	return Decode(data, target)
}

// normalizeMembers checks required fields of t against the members of data
// and renames sanitised wire keys back to the names the json package expects.
// Nested structs (and slices of them) are checked recursively.
func normalizeMembers(t reflect.Type, data []byte, path string) ([]byte, error) {
	if !isJSONObject(data) {
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			return data, nil
		}
		return nil, NewMalformedPayload(path, "expected an object")
	}
	var members map[string]jsontext.Value
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, WrapMalformedPayload(path, err)
	}

	changed := false
	for _, f := range structFields(t) {
		if f.unknown {
			continue
		}
		raw, ok := members[f.key]
		if !ok {
			if f.required {
				return nil, NewMalformedPayload(path, fmt.Sprintf("missing required field %q", f.key))
			}
			continue
		}
		if f.key != f.name {
			delete(members, f.key)
			members[f.name] = raw
			changed = true
		}

		ft := t.FieldByIndex(f.index).Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if f.optional {
			continue
		}
		sub, err := normalizeNested(ft, raw, path+"."+f.key)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(sub, raw) {
			members[f.name] = sub
			changed = true
		}
	}

	if !changed {
		return data, nil
	}
	return json.Marshal(members)
}

func normalizeNested(ft reflect.Type, raw jsontext.Value, path string) (jsontext.Value, error) {
	switch {
	case ft.Kind() == reflect.Struct && isJSONObject(raw):
		return normalizeMembers(ft, raw, path)
	case ft.Kind() == reflect.Slice && isJSONArray(raw):
		elem := ft.Elem()
		for elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.Struct {
			return raw, nil
		}
		var items []jsontext.Value
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, WrapMalformedPayload(path, err)
		}
		changed := false
		for i, item := range items {
			sub, err := normalizeMembers(elem, item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(sub, item) {
				items[i] = sub
				changed = true
			}
		}
		if !changed {
			return raw, nil
		}
		return json.Marshal(items)
	}
	return raw, nil
}

func isJSONObject(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{'
}

func isJSONArray(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '['
}

// encodeCommand builds the command envelope {"id", "method", "params"} with
// the id first.
func encodeCommand(id uint64, method string, params Object) ([]byte, error) {
	if params == nil {
		params = Object{}
	}
	body, err := json.Marshal(params, json.Deterministic(true))
	if err != nil {
		return nil, WrapMalformedPayload(method, err)
	}
	msg, err := sjson.SetBytes([]byte(`{}`), "id", id)
	if err != nil {
		return nil, err
	}
	if msg, err = sjson.SetBytes(msg, "method", method); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(msg, "params", body)
}
