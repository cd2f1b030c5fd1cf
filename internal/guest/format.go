package guest

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// dottedRefRe matches "$dotted.path" references and the special "$#" index
// placeholder used by describe.each/test.each row templates (spec §4.G.3).
var dottedRefRe = regexp.MustCompile(`\$(#|[A-Za-z_][A-Za-z0-9_.]*)`)

// Printf expands template against params, in the two-pass scheme the spec
// requires: first "$var"/"$#" substitution from params[0] (when the
// template has no "%%"), then positional "%p %s %d %i %f %j %o %# %%"
// substitution consuming params in order. index is the row's ordinal
// position, used for "$#"/"%#".
func Printf(template string, params []interface{}, index int) string {
	out := template
	if !strings.Contains(template, "%%") {
		out = expandDotted(out, params, index)
	}
	return expandPercent(out, params, index)
}

func expandDotted(template string, params []interface{}, index int) string {
	var row interface{}
	if len(params) > 0 {
		row = params[0]
	}
	return dottedRefRe.ReplaceAllStringFunc(template, func(m string) string {
		ref := m[1:]
		if ref == "#" {
			return strconv.Itoa(index)
		}
		v, ok := lookupDotted(row, ref)
		if !ok {
			return m
		}
		return FormatValue(v)
	})
}

func lookupDotted(row interface{}, path string) (interface{}, bool) {
	if row == nil {
		return nil, false
	}
	cur := reflect.ValueOf(row)
	for _, part := range strings.Split(path, ".") {
		for cur.Kind() == reflect.Ptr || cur.Kind() == reflect.Interface {
			if cur.IsNil() {
				return nil, false
			}
			cur = cur.Elem()
		}
		switch cur.Kind() {
		case reflect.Map:
			v := cur.MapIndex(reflect.ValueOf(part))
			if !v.IsValid() {
				return nil, false
			}
			cur = v
		case reflect.Struct:
			v := cur.FieldByName(part)
			if !v.IsValid() {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	if !cur.IsValid() {
		return nil, false
	}
	return cur.Interface(), true
}

var percentRe = regexp.MustCompile(`%[psdifjo#%]`)

func expandPercent(template string, params []interface{}, index int) string {
	pos := 0
	return percentRe.ReplaceAllStringFunc(template, func(m string) string {
		switch m {
		case "%%":
			return "%"
		case "%#":
			return strconv.Itoa(index)
		}
		if pos >= len(params) {
			return m
		}
		v := params[pos]
		pos++
		switch m {
		case "%d", "%i":
			return fmt.Sprintf("%d", toInt(v))
		case "%f":
			return fmt.Sprintf("%v", toFloat(v))
		case "%j":
			b, err := json.Marshal(v)
			if err != nil {
				return "{}"
			}
			return string(b)
		case "%o", "%p":
			return FormatValue(v)
		case "%s":
			return fmt.Sprintf("%v", v)
		default:
			return m
		}
	})
}

func toInt(v interface{}) int64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float())
	default:
		return 0
	}
}

func toFloat(v interface{}) float64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	default:
		return 0
	}
}

// Inspectable is implemented by values that know how to render themselves
// for log/printf formatting, mirroring a custom-inspect hook (spec §4.G.3).
type Inspectable interface {
	Inspect() string
}

// FormatValue renders v for logging/printf per spec §4.G.3: primitives via
// String(v), errors as a JSON object with at least {name, message, stack},
// Inspectable values via their hook, and everything else via
// JSON-with-circular-guard, falling back to "{}" on a cycle.
func FormatValue(v interface{}) string {
	if v == nil {
		return "<nil>"
	}
	if insp, ok := v.(Inspectable); ok {
		return insp.Inspect()
	}
	if err, ok := v.(error); ok {
		b, mErr := json.Marshal(errorReplacement(err))
		if mErr != nil {
			return "{}"
		}
		return string(b)
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%v", v)
	}

	if isCircular(v, map[uintptr]bool{}) {
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func errorReplacement(err error) map[string]interface{} {
	return map[string]interface{}{
		"name":    fmt.Sprintf("%T", err),
		"message": err.Error(),
		"stack":   "",
	}
}

// isCircular walks v looking for a pointer/map/slice that revisits an
// address already on the current path, guaranteeing FormatValue
// terminates on cyclic structures (spec §9 "Cyclic object printing").
func isCircular(v interface{}, seen map[uintptr]bool) bool {
	rv := reflect.ValueOf(v)
	return walkCircular(rv, seen, 0)
}

func walkCircular(rv reflect.Value, seen map[uintptr]bool, depth int) bool {
	if depth > 64 {
		return true
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return false
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return true
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return walkCircular(rv.Elem(), seen, depth+1)
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if !rv.Field(i).CanInterface() {
				continue
			}
			if walkCircular(rv.Field(i), seen, depth+1) {
				return true
			}
		}
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			if walkCircular(rv.MapIndex(k), seen, depth+1) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if walkCircular(rv.Index(i), seen, depth+1) {
				return true
			}
		}
	}
	return false
}
