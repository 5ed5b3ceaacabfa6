package inference

import (
	"encoding/json"
	"reflect"
	"strings"
)

// ExtractObject returns the first balanced {...} span of text.
// An object cut off by the token limit is closed by appending the missing quote and brackets.
func ExtractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	var (
		stack    []byte
		quote    byte
		escaped  bool
		lastCode byte = '{'
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
				lastCode = c
			}
			continue
		}
		switch c {
		case '"':
			quote = c
		case '\'':
			if opensString(lastCode) {
				quote = c
			}
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return text[start : i+1], true
			}
		}
		if !isSpace(c) {
			lastCode = c
		}
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(text[start:], " \t\r\n"))
	if quote != 0 {
		b.WriteByte(quote)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String(), true
}

// Repair rewrites common LLM JSON mistakes: bare keys and words, single-quoted
// strings, raw newlines inside strings and trailing commas before } or ].
func Repair(src string) string {
	var (
		b        strings.Builder
		quote    byte
		lastCode byte
	)
	b.Grow(len(src) + 16)

	for i := 0; i < len(src); i++ {
		c := src[i]

		if quote != 0 {
			switch {
			case c == '\\' && i+1 < len(src):
				next := src[i+1]
				if quote == '\'' && next == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte('\\')
					b.WriteByte(next)
				}
				i++
			case c == quote:
				b.WriteByte('"')
				quote = 0
				lastCode = '"'
			case c == '"':
				b.WriteString(`\"`)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch {
		case c == '"':
			quote = '"'
			b.WriteByte('"')
		case c == '\'' && opensString(lastCode):
			quote = '\''
			b.WriteByte('"')
		case c == ',':
			if j := skipSpace(src, i+1); j >= len(src) || src[j] == '}' || src[j] == ']' {
				continue
			}
			b.WriteByte(',')
			lastCode = ','
		case isWordStart(c) && (i == 0 || !isNumberPart(src[i-1])):
			j := i
			for j < len(src) && isWordPart(src[j]) {
				j++
			}
			word := src[i:j]
			k := skipSpace(src, j)
			isKey := k < len(src) && src[k] == ':'
			switch {
			case isKey:
				b.WriteString(`"` + word + `"`)
			case word == "true" || word == "false" || word == "null":
				b.WriteString(word)
			case word == "True" || word == "False" || word == "None":
				b.WriteString(pythonLiteral(word))
			default:
				b.WriteString(quoteBare(src, i, &j))
			}
			lastCode = 'w'
			i = j - 1
		default:
			b.WriteByte(c)
			if !isSpace(c) {
				lastCode = c
			}
		}
	}
	if quote != 0 {
		b.WriteByte('"')
	}
	return b.String()
}

// ParseObject decodes the first JSON object in text into out. repaired reports
// whether Repair was needed.
func ParseObject(text string, out any) (repaired bool, err error) {
	span, ok := ExtractObject(text)
	if !ok {
		return false, errNoObject
	}
	if err := json.Unmarshal([]byte(span), out); err == nil {
		return false, nil
	}
	reset(out)
	if err := json.Unmarshal([]byte(Repair(span)), out); err != nil {
		reset(out)
		return true, err
	}
	return true, nil
}

// reset zeroes *out so a failed decode leaves nothing behind.
func reset(out any) {
	if v := reflect.ValueOf(out); v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().SetZero()
	}
}

type parseError string

func (e parseError) Error() string { return string(e) }

const errNoObject = parseError("no JSON object found")

// quoteBare quotes an unquoted string value, extending it to the next delimiter so
// values such as `Bob Smith` stay one string. *end is advanced past the consumed text.
func quoteBare(src string, start int, end *int) string {
	j := start
	for j < len(src) && src[j] != ',' && src[j] != '}' && src[j] != ']' && src[j] != '\n' {
		j++
	}
	word := strings.TrimRight(src[start:j], " \t\r")
	*end = start + len(word)
	data, _ := json.Marshal(word)
	return string(data)
}

func pythonLiteral(word string) string {
	switch word {
	case "True":
		return "true"
	case "False":
		return "false"
	}
	return "null"
}

func opensString(last byte) bool {
	switch last {
	case 0, '{', '[', ':', ',':
		return true
	}
	return false
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNumberPart(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.'
}

func isWordPart(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9') || c == '-'
}
