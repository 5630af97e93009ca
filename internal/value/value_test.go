package value_test

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
	"gopkg.in/yaml.v3"

	"github.com/go-ports/ctxsync/internal/value"
)

// ---------------------------------------------------------------------------
// TypeName
// ---------------------------------------------------------------------------

func TestTypeName_HappyPath(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		name string
		v    value.Value
		want string
	}{
		{"null", value.Null(), "null"},
		{"bool", value.Bool(true), "bool"},
		{"int", value.Int(3), "int"},
		{"float", value.Float(1.5), "float"},
		{"string", value.String("Bob"), "string"},
		{"map", value.Map(map[string]value.Value{"a": value.Int(1)}), "dict"},
		{"list", value.List([]value.Value{value.Int(1)}), "list"},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			c.Assert(tc.v.TypeName(), qt.Equals, tc.want)
		})
	}
}

// ---------------------------------------------------------------------------
// Equal
// ---------------------------------------------------------------------------

func TestEqual_HappyPath(t *testing.T) {
	c := qt.New(t)

	nested := func(n int64) value.Value {
		return value.Map(map[string]value.Value{
			"list": value.List([]value.Value{value.Int(n), value.String("x")}),
			"ok":   value.Bool(true),
		})
	}

	cases := []struct {
		name string
		a, b value.Value
		want bool
	}{
		{"equal ints", value.Int(1), value.Int(1), true},
		{"different ints", value.Int(1), value.Int(2), false},
		{"int and float differ", value.Int(1), value.Float(1), false},
		{"equal strings", value.String("a"), value.String("a"), true},
		{"null equals null", value.Null(), value.Null(), true},
		{"null differs from empty string", value.Null(), value.String(""), false},
		{"equal nested", nested(1), nested(1), true},
		{"different nested", nested(1), nested(2), false},
		{"list order matters", value.List([]value.Value{value.Int(1), value.Int(2)}), value.List([]value.Value{value.Int(2), value.Int(1)}), false},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			c.Assert(tc.a.Equal(tc.b), qt.Equals, tc.want)
		})
	}
}

func TestMap_CopiesInput(t *testing.T) {
	c := qt.New(t)

	src := map[string]value.Value{"a": value.Int(1)}
	v := value.Map(src)
	src["a"] = value.Int(2)
	src["b"] = value.Int(3)

	c.Assert(v.Len(), qt.Equals, 1)
	c.Assert(v.Equal(value.MustFromAny(map[string]any{"a": 1})), qt.IsTrue)
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

func TestJSON_HappyPath(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		name     string
		in       string
		wantKind value.Kind
		wantOut  string
	}{
		{"integer stays int", `3`, value.KindInt, `3`},
		{"float stays float", `2.5`, value.KindFloat, `2.5`},
		{"whole float keeps decimal point", `1.0`, value.KindFloat, `1.0`},
		{"string", `"Bob"`, value.KindString, `"Bob"`},
		{"null", `null`, value.KindNull, `null`},
		{"bool", `false`, value.KindBool, `false`},
		{"map keys sorted", `{"b":1,"a":[true,null]}`, value.KindMap, `{"a":[true,null],"b":1}`},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			v, err := value.Parse([]byte(tc.in))
			c.Assert(err, qt.IsNil)
			c.Assert(v.Kind(), qt.Equals, tc.wantKind)

			out, err := json.Marshal(v)
			c.Assert(err, qt.IsNil)
			c.Assert(string(out), qt.Equals, tc.wantOut)
		})
	}
}

func TestJSON_FloatSurvivesRoundTrip(t *testing.T) {
	c := qt.New(t)

	out, err := json.Marshal(value.Float(2))
	c.Assert(err, qt.IsNil)
	c.Assert(string(out), qt.Equals, "2.0")

	back, err := value.Parse(out)
	c.Assert(err, qt.IsNil)
	c.Assert(back.Kind(), qt.Equals, value.KindFloat)
}

func TestJSON_FailurePath(t *testing.T) {
	c := qt.New(t)

	c.Run("malformed document", func(c *qt.C) {
		_, err := value.Parse([]byte(`{"a":`))
		c.Assert(err, qt.IsNotNil)
	})

	c.Run("struct embedding a value decodes nested", func(c *qt.C) {
		var body struct {
			Value value.Value `json:"value"`
		}
		err := json.Unmarshal([]byte(`{"value":{"n":[1,2]}}`), &body)
		c.Assert(err, qt.IsNil)
		c.Assert(body.Value.TypeName(), qt.Equals, "dict")
	})
}

func TestParseLoose(t *testing.T) {
	c := qt.New(t)

	c.Assert(value.ParseLoose("42").Equal(value.Int(42)), qt.IsTrue)
	c.Assert(value.ParseLoose(`"quoted"`).Equal(value.String("quoted")), qt.IsTrue)
	c.Assert(value.ParseLoose("plain words").Equal(value.String("plain words")), qt.IsTrue)
}

// ---------------------------------------------------------------------------
// FromAny / YAML
// ---------------------------------------------------------------------------

func TestFromAny_FailurePath(t *testing.T) {
	c := qt.New(t)

	_, err := value.FromAny(struct{}{})
	c.Assert(err, qt.ErrorIs, value.ErrUnsupported)

	_, err = value.FromAny(map[string]any{"ch": make(chan int)})
	c.Assert(err, qt.ErrorIs, value.ErrUnsupported)
}

func TestYAML_RoundTrip(t *testing.T) {
	c := qt.New(t)

	v := value.MustFromAny(map[string]any{
		"name":  "Bob",
		"count": 3,
		"tags":  []any{"a", "b"},
	})
	out, err := yaml.Marshal(v)
	c.Assert(err, qt.IsNil)

	var raw any
	c.Assert(yaml.Unmarshal(out, &raw), qt.IsNil)
	back, err := value.FromAny(raw)
	c.Assert(err, qt.IsNil)
	c.Assert(back.Equal(v), qt.IsTrue)
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

func TestLookup_HappyPath(t *testing.T) {
	c := qt.New(t)

	doc := value.MustFromAny(map[string]any{
		"db": map[string]any{
			"hosts": []any{"a", "b"},
			"port":  5432,
		},
	})

	cases := []struct {
		name string
		path string
		want value.Value
	}{
		{"root", "$", doc},
		{"nested int", "$.db.port", value.Int(5432)},
		{"array index", "$.db.hosts[1]", value.String("b")},
		{"relative path", "db.port", value.Int(5432)},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			got, err := value.Lookup(doc, tc.path)
			c.Assert(err, qt.IsNil)
			c.Assert(got.Equal(tc.want), qt.IsTrue, qt.Commentf("got %s", got))
		})
	}
}

func TestLookup_FailurePath(t *testing.T) {
	c := qt.New(t)

	doc := value.MustFromAny(map[string]any{"a": 1})
	_, err := value.Lookup(doc, "$.missing")
	c.Assert(err, qt.IsNotNil)
}
