package util

import (
	"fmt"
)

// AnyToString coerces a loosely typed JSON value to a string.
func AnyToString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
