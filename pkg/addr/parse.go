package addr

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*`)
	indexRegex = regexp.MustCompile(`^-?\d+$`)
)

// Parse decomposes a rendered path string into its structural parts.
// It accepts exactly what ResourcePath.String produces.
func Parse(raw string) (ResourcePath, error) {
	if raw == "" {
		return ResourcePath{}, fmt.Errorf("path cannot be empty")
	}

	var file string
	body := raw
	if i := indexTopLevel(raw, ':'); i >= 0 {
		file, body = raw[:i], raw[i+1:]
		if file == "" {
			return ResourcePath{}, fmt.Errorf("path %q has an empty file tag", raw)
		}
	}

	parts, err := splitTopLevel(body, '.')
	if err != nil {
		return ResourcePath{}, fmt.Errorf("invalid path %q: %w", raw, err)
	}
	if len(parts) < 2 || len(parts)%2 != 0 {
		return ResourcePath{}, fmt.Errorf("invalid path %q: expected type.name pairs", raw)
	}

	var current *ResourcePath
	for i := 0; i < len(parts); i += 2 {
		typeName, typeSegs, err := parsePart(parts[i])
		if err != nil {
			return ResourcePath{}, fmt.Errorf("invalid path %q: %w", raw, err)
		}
		if len(typeSegs) > 0 {
			return ResourcePath{}, fmt.Errorf("invalid path %q: type %q cannot carry segments", raw, typeName)
		}
		name, segs, err := parsePart(parts[i+1])
		if err != nil {
			return ResourcePath{}, fmt.Errorf("invalid path %q: %w", raw, err)
		}
		next := &ResourcePath{Parent: current, Type: typeName, Name: name, Segments: segs}
		current = next
	}

	current.File = file
	return *current, nil
}

// ParseSegments parses a run of bracketed segments such as [0]["prod"].
func ParseSegments(s string) ([]Segment, error) {
	var segs []Segment
	for s != "" {
		if s[0] != '[' {
			return nil, fmt.Errorf("expected '[' at %q", s)
		}
		end, err := matchBracket(s)
		if err != nil {
			return nil, err
		}
		seg, err := parseSegment(s[1:end])
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
		s = s[end+1:]
	}
	return segs, nil
}

func parsePart(part string) (string, []Segment, error) {
	name := identRegex.FindString(part)
	if name == "" {
		return "", nil, fmt.Errorf("invalid name segment %q", part)
	}
	segs, err := ParseSegments(part[len(name):])
	if err != nil {
		return "", nil, fmt.Errorf("segment %q: %w", part, err)
	}
	return name, segs, nil
}

func parseSegment(inner string) (Segment, error) {
	switch {
	case inner == "":
		return Segment{}, fmt.Errorf("empty segment")
	case indexRegex.MatchString(inner):
		i, err := strconv.Atoi(inner)
		if err != nil {
			return Segment{}, fmt.Errorf("index %q out of range: %w", inner, err)
		}
		return Index(i), nil
	case inner[0] == '"':
		if end := closingQuote(inner, 0); end == len(inner)-1 {
			key, err := strconv.Unquote(inner)
			if err != nil {
				return Segment{}, fmt.Errorf("invalid key %s: %w", inner, err)
			}
			return Key(key), nil
		}
		return Segment{}, fmt.Errorf("invalid key segment %s", inner)
	default:
		return Literal(inner), nil
	}
}

// matchBracket returns the index of the ']' closing the '[' at s[0].
func matchBracket(s string) (int, error) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			end := closingQuote(s, i)
			if end < 0 {
				return 0, fmt.Errorf("unterminated string in %q", s)
			}
			i = end
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				if s[i] != ']' {
					return 0, fmt.Errorf("mismatched brackets in %q", s)
				}
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated segment %q", s)
}

// closingQuote returns the index of the quote closing the one at s[start].
func closingQuote(s string, start int) int {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// indexTopLevel finds c outside of brackets and quoted strings.
func indexTopLevel(s string, c byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			end := closingQuote(s, i)
			if end < 0 {
				return -1
			}
			i = end
		case '[', '{':
			depth++
		case ']', '}':
			depth--
		default:
			if s[i] == c && depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	for {
		i := indexTopLevel(s, sep)
		if i < 0 {
			break
		}
		if i == 0 {
			return nil, fmt.Errorf("empty path part")
		}
		parts = append(parts, s[:i])
		s = s[i+1:]
	}
	if s == "" {
		return nil, fmt.Errorf("empty path part")
	}
	return append(parts, s), nil
}
