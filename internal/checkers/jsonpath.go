// Package checkers provides quicktest checkers for JSON tool and API output.
package checkers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	qt "github.com/frankban/quicktest"
	"github.com/yalp/jsonpath"
)

// JSONPathEquals checks that the JSON document in got (a string or []byte)
// holds want at path. want is compared after a JSON round trip, so 3 matches
// a decoded 3.0 and []string matches []any.
//
//	c.Assert(text, checkers.JSONPathEquals("$.status"), "ok")
func JSONPathEquals(path string) qt.Checker {
	return &jsonPathChecker{path: path}
}

type jsonPathChecker struct {
	path string
}

func (c *jsonPathChecker) ArgNames() []string {
	return []string{"got", "want"}
}

func (c *jsonPathChecker) Check(got any, args []any, note func(key string, value any)) error {
	var raw []byte
	switch g := got.(type) {
	case string:
		raw = []byte(g)
	case []byte:
		raw = g
	default:
		return qt.BadCheckf("got must be a string or []byte, not %T", got)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("got is not JSON: %w", err)
	}
	note("path", c.path)
	found, err := jsonpath.Read(doc, c.path)
	if err != nil {
		return err
	}

	wb, err := json.Marshal(args[0])
	if err != nil {
		return qt.BadCheckf("want is not JSON-encodable: %v", err)
	}
	var want any
	if err := json.Unmarshal(wb, &want); err != nil {
		return qt.BadCheckf("want is not JSON-encodable: %v", err)
	}
	if !reflect.DeepEqual(found, want) {
		note("found", found)
		return errors.New("value at path does not match")
	}
	return nil
}
