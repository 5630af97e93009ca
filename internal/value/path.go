package value

import (
	"fmt"
	"strings"

	"github.com/yalp/jsonpath"
)

// Lookup evaluates a JSONPath expression (e.g. "$.db.hosts[0]") against v and
// returns the selected sub-value. A path without the leading "$" is treated as
// relative to the root.
func Lookup(v Value, path string) (Value, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "$" {
		return v, nil
	}
	if !strings.HasPrefix(path, "$") {
		if strings.HasPrefix(path, "[") {
			path = "$" + path
		} else {
			path = "$." + path
		}
	}

	filter, err := jsonpath.Prepare(path)
	if err != nil {
		return Value{}, fmt.Errorf("value.Lookup: parse %q: %w", path, err)
	}
	out, err := filter(v.ToAny())
	if err != nil {
		return Value{}, fmt.Errorf("value.Lookup: %w", err)
	}
	return FromAny(out)
}
