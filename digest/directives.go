// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"fmt"
	"strings"
)

// directives is a parsed DIGEST-MD5 challenge or response: a comma
// separated list of name=value pairs where values are tokens or quoted
// strings (RFC 2831 § 7.1).  Names are case-insensitive.
type directives map[string][]string

// multiValued lists the directives that may appear more than once.
var multiValued = map[string]bool{"realm": true}

func parseDirectives(b []byte) (directives, error) {
	d := make(directives)
	s := string(b)

	for {
		s = strings.TrimLeft(s, " \t\r\n,")
		if s == "" {
			return d, nil
		}

		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("directive without value near %q", truncate(s))
		}
		name := strings.ToLower(strings.TrimSpace(s[:eq]))
		if name == "" || strings.ContainsAny(name, " \t\",") {
			return nil, fmt.Errorf("bad directive name %q", name)
		}
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if strings.HasPrefix(s, `"`) {
			var err error
			value, s, err = unquote(s)
			if err != nil {
				return nil, fmt.Errorf("directive %s: %w", name, err)
			}
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value, s = strings.TrimSpace(s[:end]), s[end:]
		}

		if _, dup := d[name]; dup && !multiValued[name] {
			return nil, fmt.Errorf("directive %s repeated", name)
		}
		d[name] = append(d[name], value)

		s = strings.TrimLeft(s, " \t\r\n")
		if s != "" && s[0] != ',' {
			return nil, fmt.Errorf("expected ',' after directive %s", name)
		}
	}
}

// unquote reads a quoted string at the start of s and returns the value and
// the remainder.
func unquote(s string) (value, rest string, err error) {
	var sb strings.Builder

	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
			if i == len(s) {
				return "", "", fmt.Errorf("unterminated quoted string")
			}
			sb.WriteByte(s[i])
		case '"':
			return sb.String(), s[i+1:], nil
		default:
			sb.WriteByte(s[i])
		}
	}

	return "", "", fmt.Errorf("unterminated quoted string")
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}

// get returns the first value of name, if present.
func (d directives) get(name string) (string, bool) {
	v, ok := d[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// directiveWriter builds a directive list.
type directiveWriter struct {
	sb strings.Builder
}

func (w *directiveWriter) sep() {
	if w.sb.Len() > 0 {
		w.sb.WriteByte(',')
	}
}

// token writes name=value without quoting.
func (w *directiveWriter) token(name, value string) {
	w.sep()
	w.sb.WriteString(name)
	w.sb.WriteByte('=')
	w.sb.WriteString(value)
}

// quoted writes name="value", escaping quotes and backslashes.
func (w *directiveWriter) quoted(name, value string) {
	w.sep()
	w.sb.WriteString(name)
	w.sb.WriteString(`="`)
	for i := 0; i < len(value); i++ {
		if c := value[i]; c == '"' || c == '\\' {
			w.sb.WriteByte('\\')
		}
		w.sb.WriteByte(value[i])
	}
	w.sb.WriteByte('"')
}

func (w *directiveWriter) bytes() []byte {
	return []byte(w.sb.String())
}
