package solver

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseAnswerScalars(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Answer
	}{
		{"true", "true", BoolAnswer(true)},
		{"false", "False", BoolAnswer(false)},
		{"yes", "yes", BoolAnswer(true)},
		{"integer", "42", NumberAnswer(42)},
		{"float", "3.14", NumberAnswer(3.14)},
		{"negative", "-7", NumberAnswer(-7)},
		{"number in prose", "The answer is 42", NumberAnswer(42)},
		{"first number wins", "Between 3 and 5 pick 3.", NumberAnswer(3)},
		{"plain text", "the capital is Paris", StringAnswer("the capital is Paris")},
		{"whitespace", "  hello  ", StringAnswer("hello")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseAnswer(tc.in)
			if !got.Equal(tc.want) {
				t.Fatalf("ParseAnswer(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseAnswerJSON(t *testing.T) {
	got := ParseAnswer(`{"rows": [1, 2], "total": 3}`)
	if got.Kind != AnswerJSON {
		t.Fatalf("expected JSON answer, got %s", got.Kind)
	}

	// An {"answer": ...} envelope unwraps to the inner value.
	got = ParseAnswer(`{"answer": 12.5}`)
	if got.Kind != AnswerNumber || got.Number != 12.5 {
		t.Fatalf("expected unwrapped number 12.5, got %+v", got)
	}
	got = ParseAnswer(`{"answer": true}`)
	if !got.Equal(BoolAnswer(true)) {
		t.Fatalf("expected unwrapped bool, got %+v", got)
	}

	// JSON embedded in surrounding prose is still found.
	got = ParseAnswer("The final answer is:\n{\"answer\": \"blue\"}\nDone.")
	if !got.Equal(StringAnswer("blue")) {
		t.Fatalf("expected embedded answer to unwrap, got %+v", got)
	}
}

func TestParseAnswerDataURI(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)
	got := ParseAnswer(uri)
	if got.Kind != AnswerBinary {
		t.Fatalf("expected binary answer, got %s", got.Kind)
	}
	if got.MIME != "image/png" || string(got.Bytes) != string(payload) {
		t.Fatalf("binary payload mismatch: %+v", got)
	}
}

func TestAnswerMarshalJSON(t *testing.T) {
	cases := []struct {
		name string
		in   Answer
		want string
	}{
		{"bool", BoolAnswer(true), "true"},
		{"number", NumberAnswer(42), "42"},
		{"string", StringAnswer("paris"), `"paris"`},
		{"json", JSONAnswer(json.RawMessage(`{"a":1}`)), `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != tc.want {
				t.Fatalf("Marshal = %s, want %s", b, tc.want)
			}
		})
	}

	bin := BinaryAnswer("image/png", []byte{1, 2, 3})
	b, err := json.Marshal(bin)
	if err != nil {
		t.Fatalf("Marshal binary: %v", err)
	}
	if !strings.HasPrefix(string(b), `"data:image/png;base64,`) {
		t.Fatalf("binary answer must serialize as data URI, got %s", b)
	}

	if _, err := json.Marshal(Answer{Kind: "mystery"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestAnswerEqual(t *testing.T) {
	if !NumberAnswer(1).Equal(NumberAnswer(1)) {
		t.Fatalf("identical numbers must compare equal")
	}
	if NumberAnswer(1).Equal(StringAnswer("1")) {
		t.Fatalf("kinds must not coerce for equality")
	}
	if BinaryAnswer("a/b", []byte{1}).Equal(BinaryAnswer("a/c", []byte{1})) {
		t.Fatalf("mime must participate in binary equality")
	}
}
