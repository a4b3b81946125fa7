package solver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AnswerKind discriminates the closed set of answer payload shapes.
type AnswerKind string

const (
	AnswerBool   AnswerKind = "bool"
	AnswerNumber AnswerKind = "number"
	AnswerString AnswerKind = "string"
	AnswerBinary AnswerKind = "binary"
	AnswerJSON   AnswerKind = "json"
)

// Answer is a tagged union over the payload shapes a quiz accepts. Exactly
// the field matching Kind is meaningful; construct values through the
// typed helpers, never by hand.
type Answer struct {
	Kind   AnswerKind
	Bool   bool
	Number float64
	Text   string
	MIME   string
	Bytes  []byte
	Object json.RawMessage
}

// BoolAnswer wraps a boolean payload.
func BoolAnswer(v bool) Answer { return Answer{Kind: AnswerBool, Bool: v} }

// NumberAnswer wraps a numeric payload.
func NumberAnswer(v float64) Answer { return Answer{Kind: AnswerNumber, Number: v} }

// StringAnswer wraps a free-text payload.
func StringAnswer(v string) Answer { return Answer{Kind: AnswerString, Text: v} }

// BinaryAnswer wraps raw bytes submitted as a base64 data URI.
func BinaryAnswer(mime string, data []byte) Answer {
	return Answer{Kind: AnswerBinary, MIME: mime, Bytes: data}
}

// JSONAnswer wraps an arbitrary structured payload.
func JSONAnswer(raw json.RawMessage) Answer { return Answer{Kind: AnswerJSON, Object: raw} }

// DataURI renders a binary answer as a data URI. Callers must not reach
// for Bytes directly when building wire payloads.
func (a Answer) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", a.MIME, base64.StdEncoding.EncodeToString(a.Bytes))
}

// MarshalJSON serializes the answer in its submission wire shape. Every kind
// is handled explicitly; an unknown kind is an error, never a silent
// coercion.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerBool:
		return json.Marshal(a.Bool)
	case AnswerNumber:
		return json.Marshal(a.Number)
	case AnswerString:
		return json.Marshal(a.Text)
	case AnswerBinary:
		return json.Marshal(a.DataURI())
	case AnswerJSON:
		if len(a.Object) == 0 {
			return []byte("null"), nil
		}
		return a.Object, nil
	default:
		return nil, fmt.Errorf("answer has unknown kind %q", a.Kind)
	}
}

// Equal reports whether two answers carry the same kind and payload. Used to
// refuse resubmitting an identical answer after a rejection.
func (a Answer) Equal(b Answer) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AnswerBool:
		return a.Bool == b.Bool
	case AnswerNumber:
		return a.Number == b.Number
	case AnswerString:
		return a.Text == b.Text
	case AnswerBinary:
		return a.MIME == b.MIME && string(a.Bytes) == string(b.Bytes)
	case AnswerJSON:
		return string(a.Object) == string(b.Object)
	}
	return false
}

// String renders a short loggable form without dumping binary payloads.
func (a Answer) String() string {
	switch a.Kind {
	case AnswerBool:
		return strconv.FormatBool(a.Bool)
	case AnswerNumber:
		return strconv.FormatFloat(a.Number, 'g', -1, 64)
	case AnswerString:
		return truncate(a.Text, 120)
	case AnswerBinary:
		return fmt.Sprintf("binary(%s, %d bytes)", a.MIME, len(a.Bytes))
	case AnswerJSON:
		return truncate(string(a.Object), 120)
	}
	return fmt.Sprintf("unknown(%s)", a.Kind)
}

var (
	dataURIRe    = regexp.MustCompile(`^data:([\w.+-]+/[\w.+-]+);base64,([A-Za-z0-9+/=\s]+)$`)
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
	numberRe     = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// ParseAnswer interprets the reasoning model's final free-text output as a
// typed answer. Tries, in order: a data URI, a JSON document, a bare
// boolean, the first number in the text, and falls back to the trimmed text.
func ParseAnswer(text string) Answer {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return StringAnswer("")
	}

	if m := dataURIRe.FindStringSubmatch(trimmed); m != nil {
		clean := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, m[2])
		if data, err := base64.StdEncoding.DecodeString(clean); err == nil {
			return BinaryAnswer(m[1], data)
		}
	}

	if a, ok := parseJSONAnswer(trimmed); ok {
		return a
	}
	if m := jsonObjectRe.FindString(trimmed); m != "" && m != trimmed {
		if a, ok := parseJSONAnswer(m); ok {
			return a
		}
	}

	switch strings.ToLower(trimmed) {
	case "true", "yes":
		return BoolAnswer(true)
	case "false", "no":
		return BoolAnswer(false)
	}

	// Models often wrap a numeric answer in prose ("The answer is 42");
	// the first number in the text wins.
	if m := numberRe.FindString(trimmed); m != "" {
		if n, err := strconv.ParseFloat(m, 64); err == nil {
			return NumberAnswer(n)
		}
	}

	return StringAnswer(trimmed)
}

// parseJSONAnswer decodes candidate JSON text into the matching answer kind.
// An {"answer": ...} envelope is unwrapped, mirroring models that echo the
// submission shape instead of the bare value.
func parseJSONAnswer(candidate string) (Answer, bool) {
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Answer{}, false
	}

	if obj, ok := v.(map[string]interface{}); ok {
		if inner, ok := obj["answer"]; ok && len(obj) == 1 {
			return fromDecoded(inner), true
		}
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		raw := json.RawMessage(strings.TrimSpace(candidate))
		return JSONAnswer(raw), true
	}
	return fromDecoded(v), true
}

func fromDecoded(v interface{}) Answer {
	switch t := v.(type) {
	case bool:
		return BoolAnswer(t)
	case json.Number:
		if n, err := t.Float64(); err == nil {
			return NumberAnswer(n)
		}
		return StringAnswer(t.String())
	case string:
		if dataURIRe.MatchString(t) {
			return ParseAnswer(t)
		}
		return StringAnswer(t)
	case nil:
		return StringAnswer("")
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return StringAnswer(fmt.Sprintf("%v", t))
		}
		return JSONAnswer(raw)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
