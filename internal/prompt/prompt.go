// Package prompt renders brace-style prompt templates such as
// "Rate {title}: {summary}". "{{" and "}}" produce literal braces.
package prompt

import (
	"fmt"
	"strings"
)

type segment struct {
	literal string
	field   string
}

func parse(tmpl string) ([]segment, error) {
	var (
		segments []segment
		lit      strings.Builder
	)
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unclosed placeholder at offset %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			// format specs and conversions are accepted and ignored
			if cut := strings.IndexAny(name, ":!"); cut >= 0 {
				name = name[:cut]
			}
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("empty placeholder at offset %d", i)
			}
			if lit.Len() > 0 {
				segments = append(segments, segment{literal: lit.String()})
				lit.Reset()
			}
			segments = append(segments, segment{field: name})
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("single '}' at offset %d", i)
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		segments = append(segments, segment{literal: lit.String()})
	}
	return segments, nil
}

// Placeholders returns the field names referenced by tmpl in order of appearance.
func Placeholders(tmpl string) ([]string, error) {
	segments, err := parse(tmpl)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, s := range segments {
		if s.field != "" {
			names = append(names, s.field)
		}
	}
	return names, nil
}

// Render substitutes fields into tmpl. A placeholder without a matching
// field is an error.
func Render(tmpl string, fields map[string]string) (string, error) {
	segments, err := parse(tmpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, s := range segments {
		if s.field == "" {
			b.WriteString(s.literal)
			continue
		}
		v, ok := fields[s.field]
		if !ok {
			return "", fmt.Errorf("template references unknown field %q", s.field)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}
