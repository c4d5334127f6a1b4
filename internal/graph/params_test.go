package graph

import "testing"

func TestFormatQueryNoParams(t *testing.T) {
	got := formatQuery("MATCH (n) RETURN n", nil)
	want := "MATCH (n) RETURN n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatQueryDeterministicOrder(t *testing.T) {
	params := map[string]any{"b": "two", "a": int64(1)}
	got := formatQuery("MATCH (n) RETURN n", params)
	want := `CYPHER a=1 b="two" MATCH (n) RETURN n`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatParamValueTypes(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"hi", `"hi"`},
		{true, "true"},
		{int64(7), "7"},
		{3.5, "3.5"},
		{nil, "null"},
	}
	for _, c := range cases {
		if got := formatParamValue(c.in); got != c.want {
			t.Errorf("formatParamValue(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
