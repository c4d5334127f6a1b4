package graph

import "testing"

func TestParseReplyWriteOnly(t *testing.T) {
	raw := []any{[]any{"Query internal execution time: 0.1ms"}}
	res, err := parseReply(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Empty() {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestParseReplyWithRows(t *testing.T) {
	raw := []any{
		[]any{"uid", "text"},
		[]any{
			[]any{"1:100", "hello"},
			[]any{"1:101", "world"},
		},
		[]any{"Query internal execution time: 0.2ms"},
	}
	res, err := parseReply(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}
	if res.Rows[0]["uid"] != "1:100" || res.Rows[0]["text"] != "hello" {
		t.Fatalf("unexpected row: %+v", res.Rows[0])
	}
	if res.First()["uid"] != "1:100" {
		t.Fatalf("First() returned wrong row: %+v", res.First())
	}
}

func TestParseReplyUnexpectedShape(t *testing.T) {
	if _, err := parseReply("not an array"); err == nil {
		t.Fatal("expected error for non-array reply")
	}
	if _, err := parseReply([]any{1, 2}); err == nil {
		t.Fatal("expected error for wrong arity")
	}
}
