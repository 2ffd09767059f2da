// Package jsonfix parses hand-edited JSON documents that strict decoders reject.
//
// Parsing runs through a fixed sequence of increasingly permissive stages and
// stops at the first one that yields valid JSON. Every stage is exported so it
// can be tested and reused on its own.
package jsonfix

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

// Stage names the step that produced a parse result
type Stage string

const (
	StageStrict     Stage = "strict"
	StageCleaned    Stage = "cleaned"
	StageStructural Stage = "structural"
	StageRelaxed    Stage = "relaxed"
	StageFailed     Stage = "failed"
)

// ErrUnparseable is returned when no stage could make sense of the input
var ErrUnparseable = errors.New("jsonfix: unparseable document")

// Result is the outcome of Parse. Value always holds strict JSON when Err is nil.
type Result struct {
	Value json.RawMessage
	Stage Stage
	Err   error
}

// OK reports whether any stage succeeded
func (r Result) OK() bool { return r.Err == nil }

// Decode unmarshals the normalized value into v
func (r Result) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	return json.Unmarshal(r.Value, v)
}

// Parse tries each stage in order: strict, cleaned, structural, relaxed.
func Parse(text []byte) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Stage: StageFailed, Err: fmt.Errorf("%w: %v", ErrUnparseable, p)}
		}
	}()

	if v, ok := Strict(text); ok {
		return Result{Value: v, Stage: StageStrict}
	}

	cleaned := Clean(text)
	if v, ok := Strict(cleaned); ok {
		return Result{Value: v, Stage: StageCleaned}
	}

	structural := Structural(cleaned)
	if v, ok := Strict(structural); ok {
		return Result{Value: v, Stage: StageStructural}
	}

	v, err := Relaxed(structural)
	if err == nil {
		return Result{Value: v, Stage: StageRelaxed}
	}
	return Result{Stage: StageFailed, Err: fmt.Errorf("%w: %v", ErrUnparseable, err)}
}

// Strict returns text unchanged when it is already valid JSON
func Strict(text []byte) (json.RawMessage, bool) {
	if !json.Valid(text) {
		return nil, false
	}
	return json.RawMessage(text), true
}

var (
	exoticSpaces = strings.NewReplacer(
		"\u00A0", " ", "\u2000", " ", "\u2001", " ", "\u2002", " ", "\u2003", " ",
		"\u2004", " ", "\u2005", " ", "\u2006", " ", "\u2007", " ", "\u2008", " ",
		"\u2009", " ", "\u200A", " ", "\u202F", " ", "\u205F", " ", "\u3000", " ",
	)
	smartQuotes = strings.NewReplacer(
		"\u201C", `"`, "\u201D", `"`,
		"\u2018", "'", "\u2019", "'",
	)

	// a digit followed by a quote-like mark is a foot or inch measure unless the mark closes the value
	footMark = regexp.MustCompile(`(\d)\s*[\x{2019}\x{2032}]`)
	inchMark = regexp.MustCompile(`(\d)\s*[\x{201D}\x{2033}]`)

	paddedValue = regexp.MustCompile(`:\s*"([^"]*?)\s*"`)
)

// Clean repairs character-level damage typically introduced by word processors:
// byte order marks, exotic spaces, CRLF line ends, typographic quotes and
// unescaped quotes inside string values.
func Clean(text []byte) []byte {
	s := strings.ReplaceAll(string(text), "\uFEFF", "")
	s = exoticSpaces.Replace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = markPrimes(s, footMark, "\u2032")
	s = markPrimes(s, inchMark, "\u2033")
	s = smartQuotes.Replace(s)
	s = trimStringValues(s)
	s = escapeInnerQuotes(s)
	return []byte(strings.TrimSpace(s))
}

func markPrimes(s string, re *regexp.Regexp, prime string) string {
	var b strings.Builder
	pos := 0
	for _, loc := range re.FindAllStringSubmatchIndex(s, -1) {
		start, end := loc[0], loc[1]
		if closesValue(s[end:]) {
			continue
		}
		b.WriteString(s[pos:start])
		b.WriteString(s[loc[2]:loc[3]])
		b.WriteString(prime)
		pos = end
	}
	b.WriteString(s[pos:])
	return b.String()
}

// trimStringValues rewrites `: " value "` as `: "value"` when the closing
// quote really ends the value.
func trimStringValues(s string) string {
	var b strings.Builder
	pos := 0
	for pos < len(s) {
		loc := paddedValue.FindStringSubmatchIndex(s[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if !closesValue(s[end:]) {
			b.WriteString(s[pos : start+1])
			pos = start + 1
			continue
		}
		b.WriteString(s[pos:start])
		b.WriteString(`: "`)
		b.WriteString(strings.TrimSpace(s[pos+loc[2] : pos+loc[3]]))
		b.WriteString(`"`)
		pos = end
	}
	b.WriteString(s[pos:])
	return b.String()
}

// escapeInnerQuotes escapes quotes inside a string value that cannot be the
// closing quote, because what follows is neither a separator nor a closer.
func escapeInnerQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		c := s[i]
		if c != ':' {
			b.WriteByte(c)
			i++
			continue
		}

		b.WriteByte(c)
		i++
		j := i
		for j < len(s) && isBlank(s[j]) {
			j++
		}
		if j >= len(s) || s[j] != '"' {
			continue
		}
		b.WriteString(s[i : j+1])
		i = j + 1

		for i < len(s) {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				b.WriteString(s[i : i+2])
				i += 2
				continue
			}
			if c == '\n' {
				break
			}
			if c == '"' {
				if closesValue(s[i+1:]) {
					b.WriteByte(c)
					i++
					break
				}
				b.WriteString(`\"`)
				i++
				continue
			}
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func closesValue(rest string) bool {
	for k := 0; k < len(rest); k++ {
		switch rest[k] {
		case ' ', '\t':
			continue
		case ',', '}', ']', '\n':
			return true
		default:
			return false
		}
	}
	return true
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n'
}

var (
	lineComment   = regexp.MustCompile(`(^|\s)//[^\n]*`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// Structural drops comments and trailing commas before a closing brace or bracket
func Structural(text []byte) []byte {
	out := lineComment.ReplaceAll(text, []byte("$1"))
	out = blockComment.ReplaceAll(out, nil)
	out = trailingComma.ReplaceAll(out, []byte("$1"))
	return out
}

// Relaxed parses text as JSON5 and re-encodes the value as strict JSON
func Relaxed(text []byte) (json.RawMessage, error) {
	var v any
	if err := json5.Unmarshal(text, &v); err != nil {
		return nil, fmt.Errorf("json5: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("re-encode: %w", err)
	}
	return out, nil
}
