// Package audit seals calculation inputs and outputs into tamper-evident
// records.
//
// A value is sealed by rendering it as canonical JSON and hashing the result.
// Canonical JSON has sorted object keys and no whitespace. Every decimal is
// written with CanonicalPrecision places, so values differing only in
// trailing zeros encode, and hash, identically.
package audit

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/date"
	decimal_opt "github.com/taxlot/taxlot/decimal_value"
)

// CanonicalPrecision is the number of decimal places of every non-integer
// number in canonical JSON.
const CanonicalPrecision = 10

const maxDepth = 64

var ErrUnsupportedValue = errors.New("unsupported value")

// UnsupportedValueError is returned for values with no canonical form.
type UnsupportedValueError struct {
	Path   string
	Type   string
	Reason string
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("cannot canonicalize %s at %s: %s", e.Type, e.Path, e.Reason)
}

func (e *UnsupportedValueError) Is(target error) bool {
	return target == ErrUnsupportedValue
}

var canonicalAPI = jsoniter.Config{
	SortMapKeys: true,
	EscapeHTML:  false,
}.Froze()

// decodeAPI reads canonical JSON back without losing number precision.
var decodeAPI = jsoniter.Config{UseNumber: true}.Froze()

var (
	decimalType    = reflect.TypeOf(decimal.Decimal{})
	decimalOptType = reflect.TypeOf(decimal_opt.DecimalOpt{})
	dateType       = reflect.TypeOf(date.Date{})
	timeType       = reflect.TypeOf(time.Time{})
	jsonMarshaler  = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshaler  = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// CanonicalJSON renders v as canonical JSON.
//
// Structs are encoded through their json tags, as encoding/json would.
// Channels, functions, complex numbers, unsafe pointers, non-finite floats
// and maps with non-string keys are rejected with *UnsupportedValueError.
func CanonicalJSON(v any) ([]byte, error) {
	tree, err := normalize(reflect.ValueOf(v), "$", 0)
	if err != nil {
		return nil, err
	}
	return canonicalAPI.Marshal(tree)
}

func unsupported(path string, t reflect.Type, reason string) error {
	name := "nil"
	if t != nil {
		name = t.String()
	}
	return &UnsupportedValueError{Path: path, Type: name, Reason: reason}
}

func decimalNumber(d decimal.Decimal) jsoniter.Number {
	return jsoniter.Number(d.StringFixed(CanonicalPrecision))
}

// numberFromText gives integers that fit in an int64 their integer form, and
// everything else the fixed decimal form. 100 and 100.0 are therefore distinct.
func numberFromText(s string, path string) (jsoniter.Number, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return jsoniter.Number(strconv.FormatInt(i, 10)), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", unsupported(path, reflect.TypeOf(s), fmt.Sprintf("invalid number %q", s))
	}
	return decimalNumber(d), nil
}

// normalize converts v into a tree of nil, bool, string, jsoniter.Number,
// []any and map[string]any.
func normalize(v reflect.Value, path string, depth int) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if depth > maxDepth {
		return nil, unsupported(path, v.Type(), "nesting too deep (cyclic value?)")
	}
	if !v.CanInterface() {
		return nil, unsupported(path, v.Type(), "unexported value")
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		if v.Kind() == reflect.Interface {
			return normalize(v.Elem(), path, depth+1)
		}
	}

	switch v.Type() {
	case decimalType:
		return decimalNumber(v.Interface().(decimal.Decimal)), nil
	case decimalOptType:
		d := v.Interface().(decimal_opt.DecimalOpt)
		if d.IsNull {
			return nil, nil
		}
		return decimalNumber(d.Decimal), nil
	case dateType:
		return v.Interface().(date.Date).String(), nil
	case timeType:
		return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano), nil
	}

	if v.Kind() == reflect.Pointer {
		return normalize(v.Elem(), path, depth+1)
	}

	switch n := v.Interface().(type) {
	case json.Number:
		return numberFromText(string(n), path)
	case jsoniter.Number:
		return numberFromText(string(n), path)
	}

	if v.Type().Implements(jsonMarshaler) {
		return normalizeMarshaled(v, path, depth)
	}
	if v.Type().Implements(textMarshaler) {
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return string(text), nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return jsoniter.Number(strconv.FormatInt(v.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		// Beyond int64 a number decodes as a decimal, so write it as one.
		return numberFromText(strconv.FormatUint(v.Uint(), 10), path)
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, unsupported(path, v.Type(), "non-finite float")
		}
		return decimalNumber(decimal.NewFromFloat(f)), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return normalizeMarshaled(v, path, depth)
		}
		return normalizeList(v, path, depth)
	case reflect.Array:
		return normalizeList(v, path, depth)
	case reflect.Map:
		return normalizeMap(v, path, depth)
	case reflect.Struct:
		out := map[string]any{}
		if err := normalizeStruct(v, path, depth, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, unsupported(path, v.Type(), "no JSON representation")
}

// normalizeMarshaled round trips a value through its own JSON encoding.
func normalizeMarshaled(v reflect.Value, path string, depth int) (any, error) {
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var decoded any
	if err := decodeAPI.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return normalize(reflect.ValueOf(decoded), path, depth+1)
}

func normalizeList(v reflect.Value, path string, depth int) (any, error) {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem, err := normalize(v.Index(i), fmt.Sprintf("%s[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	return out, nil
}

func normalizeMap(v reflect.Value, path string, depth int) (any, error) {
	if v.Type().Key().Kind() != reflect.String {
		return nil, unsupported(path, v.Type(), "map keys must be strings")
	}
	if v.IsNil() {
		return nil, nil
	}
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		elem, err := normalize(iter.Value(), path+"."+key, depth+1)
		if err != nil {
			return nil, err
		}
		out[key] = elem
	}
	return out, nil
}

type jsonField struct {
	name      string
	omitEmpty bool
}

func parseJsonTag(f reflect.StructField) (jsonField, bool) {
	tag, hasTag := f.Tag.Lookup("json")
	if tag == "-" {
		return jsonField{}, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	field := jsonField{name: name, omitEmpty: strings.Contains(opts, "omitempty")}
	if !hasTag || field.name == "" {
		field.name = f.Name
	}
	return field, true
}

// normalizeStruct adds v's fields to out. Fields promoted from untagged
// embedded structs never replace the struct's own.
func normalizeStruct(v reflect.Value, path string, depth int, out map[string]any) error {
	t := v.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		fv := v.Field(i)
		if sf.Anonymous {
			_, tagged := sf.Tag.Lookup("json")
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if !tagged && ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		field, ok := parseJsonTag(sf)
		if !ok || (field.omitEmpty && isEmptyValue(fv)) {
			continue
		}
		elem, err := normalize(fv, path+"."+field.name, depth+1)
		if err != nil {
			return err
		}
		out[field.name] = elem
	}

	for _, ev := range embedded {
		promoted := map[string]any{}
		if err := normalizeStruct(ev, path, depth+1, promoted); err != nil {
			return err
		}
		for k, val := range promoted {
			if _, exists := out[k]; !exists {
				out[k] = val
			}
		}
	}
	return nil
}

// isEmptyValue follows encoding/json's omitempty rules.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// decodeCanonical parses JSON produced by CanonicalJSON.
func decodeCanonical(data []byte) (any, error) {
	var v any
	if err := decodeAPI.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
