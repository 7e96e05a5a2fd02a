// Package template implements the small substitution engine used for
// notification bodies: non-nested {{#if KEY}}...{{/if}} blocks followed by
// {{KEY}} interpolation. Rendering never fails; unknown keys stay literal.
package template

import (
	"fmt"
	"reflect"
	"regexp"
)

var (
	conditionalRe = regexp.MustCompile(`(?s)\{\{#if\s+([A-Za-z0-9_.]+)\s*\}\}(.*?)\{\{/if\}\}`)
	variableRe    = regexp.MustCompile(`\{\{([A-Za-z0-9_.]+)\}\}`)
)

// Vars is the variable map handed to Render.
type Vars map[string]interface{}

// Render applies the conditional pass, then the interpolation pass.
func Render(tmpl string, vars Vars) string {
	out := conditionalRe.ReplaceAllStringFunc(tmpl, func(block string) string {
		m := conditionalRe.FindStringSubmatch(block)
		if truthy(vars[m[1]]) {
			return m[2]
		}
		return ""
	})

	return variableRe.ReplaceAllStringFunc(out, func(token string) string {
		key := variableRe.FindStringSubmatch(token)[1]
		v, ok := vars[key]
		if !ok || v == nil {
			return token
		}
		return fmt.Sprint(v)
	})
}

// FromStrings adapts string metadata into Vars.
func FromStrings(m map[string]string) Vars {
	vars := make(Vars, len(m))
	for k, v := range m {
		vars[k] = v
	}
	return vars
}

func truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map:
		return true
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
