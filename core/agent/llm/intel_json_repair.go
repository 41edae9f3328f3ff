package llm

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// ErrNoJSON means the model response has no JSON object or array at all.
var ErrNoJSON = errors.New("no JSON found in model response")

// StripCodeFence removes a surrounding markdown code fence and any prose
// before the first '{' or '['.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimLeft(s, "`")
		}
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	if start := strings.IndexAny(s, "{["); start > 0 {
		s = s[start:]
	}
	return s
}

// DecodeModelJSON parses a model response into v. Fenced output is unwrapped
// first; when the plain parse fails the text is repaired and parsed once
// more. repaired reports whether the second attempt was needed.
func DecodeModelJSON(raw string, v any) (repaired bool, err error) {
	text := StripCodeFence(raw)
	if text == "" || (text[0] != '{' && text[0] != '[') {
		return false, ErrNoJSON
	}

	firstErr := json.Unmarshal([]byte(text), v)
	if firstErr == nil {
		return false, nil
	}

	fixed, ok := RepairJSON(text)
	if !ok {
		return false, firstErr
	}
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return true, err
	}
	return true, nil
}

// =============================================================================
// Repair
// =============================================================================

type phase int

const (
	expectKey phase = iota
	afterKey
	expectValue
	afterValue
)

type frame struct {
	open  byte
	phase phase
}

var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

func isCompleteLiteral(lit string) bool {
	switch lit {
	case "true", "false", "null":
		return true
	}
	return jsonNumber.MatchString(lit)
}

// RepairJSON closes a JSON document that was cut off mid-stream. It walks the
// text tracking string state and open containers, remembers the last point
// where a value was complete, and then:
//   - closes an unterminated string value, dropping a partial escape;
//   - drops a partial key, dangling comma or partial literal;
//   - completes a key that has no value yet with null;
//   - appends the missing '}' and ']' in LIFO order;
//   - removes a comma that directly precedes a '}' or ']'.
//
// Any key whose closing quote was present in the input survives. Text after
// a complete root value is discarded. ok is false when s does not start a
// JSON container.
func RepairJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return "", false
	}

	var (
		stack     []frame
		safe      int
		safeStack []frame

		inString    bool
		stringIsKey bool
		escStart    = -1

		inLiteral bool
		litStart  int
	)

	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}
	markSafe := func(pos int) {
		safe = pos
		safeStack = append(safeStack[:0], stack...)
	}
	valueDone := func(pos int) {
		if f := top(); f != nil {
			f.phase = afterValue
		}
		markSafe(pos)
	}
	finishLiteral := func(pos int) {
		if inLiteral {
			inLiteral = false
			valueDone(pos)
		}
	}

	n := len(s)
	for i := 0; i < n; i++ {
		c := s[i]

		if inString {
			switch c {
			case '\\':
				if i+1 >= n {
					escStart = i
				} else if s[i+1] == 'u' {
					if i+5 >= n {
						escStart = i
					} else {
						i += 5
					}
				} else {
					i++
				}
			case '"':
				inString = false
				if stringIsKey {
					top().phase = afterKey
				} else {
					valueDone(i + 1)
				}
			}
			if escStart >= 0 {
				break
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			f := top()
			stringIsKey = f != nil && f.open == '{' && f.phase == expectKey
		case '{', '[':
			ph := expectValue
			if c == '{' {
				ph = expectKey
			}
			stack = append(stack, frame{open: c, phase: ph})
			markSafe(i + 1)
		case '}', ']':
			finishLiteral(i)
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return dropDanglingCommas(s[:i+1]), true
			}
			valueDone(i + 1)
		case ':':
			finishLiteral(i)
			if f := top(); f != nil {
				f.phase = expectValue
			}
		case ',':
			finishLiteral(i)
			if f := top(); f != nil {
				if f.open == '{' {
					f.phase = expectKey
				} else {
					f.phase = expectValue
				}
			}
		case ' ', '\t', '\n', '\r':
			finishLiteral(i)
		default:
			if !inLiteral {
				inLiteral = true
				litStart = i
			}
		}
	}

	var b strings.Builder
	switch {
	case inString && !stringIsKey:
		cut := n
		if escStart >= 0 {
			cut = escStart
		}
		b.WriteString(trimPartialRune(s[:cut]))
		b.WriteByte('"')
		writeClosers(&b, stack)

	case inString:
		b.WriteString(s[:safe])
		writeClosers(&b, safeStack)

	case inLiteral:
		lit := s[litStart:]
		f := top()
		switch {
		case isCompleteLiteral(lit):
			b.WriteString(s)
			writeClosers(&b, stack)
		case f != nil && f.open == '{':
			b.WriteString(s[:litStart])
			b.WriteString("null")
			writeClosers(&b, stack)
		default:
			b.WriteString(s[:safe])
			writeClosers(&b, safeStack)
		}

	default:
		f := top()
		switch {
		case f != nil && f.open == '{' && f.phase == afterKey:
			b.WriteString(strings.TrimRight(s, " \t\r\n"))
			b.WriteString(":null")
			writeClosers(&b, stack)
		case f != nil && f.open == '{' && f.phase == expectValue:
			b.WriteString(strings.TrimRight(s, " \t\r\n"))
			b.WriteString("null")
			writeClosers(&b, stack)
		default:
			b.WriteString(s[:safe])
			writeClosers(&b, safeStack)
		}
	}
	return dropDanglingCommas(b.String()), true
}

// dropDanglingCommas removes every ',' outside a string whose next
// non-space byte is '}' or ']'.
func dropDanglingCommas(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	var (
		b        strings.Builder
		inString bool
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(s) {
					i++
					b.WriteByte(s[i])
				}
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func writeClosers(b *strings.Builder, stack []frame) {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].open == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
}

// trimPartialRune drops a multi-byte character cut in half.
func trimPartialRune(s string) string {
	for i := 0; i < utf8.UTFMax && len(s) > 0; i++ {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			return s
		}
		s = s[:len(s)-1]
	}
	return s
}
