package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// span is one {{...}} occurrence within a string, with the expression text
// already trimmed of surrounding whitespace.
type span struct {
	start, end int // end is exclusive, one past the closing "}}"
	expr       string
}

// scanPlaceholders finds every {{expr}} occurrence in s. An unclosed "{{"
// with no matching "}}" anywhere after it is left as literal text: scanning
// simply stops, since nothing past that point can be a placeholder.
func scanPlaceholders(s string) []span {
	var spans []span
	i := 0
	for {
		open := strings.Index(s[i:], "{{")
		if open < 0 {
			break
		}
		open += i
		close := strings.Index(s[open+2:], "}}")
		if close < 0 {
			break
		}
		close += open + 2
		expr := strings.TrimSpace(s[open+2 : close])
		spans = append(spans, span{start: open, end: close + 2, expr: expr})
		i = close + 2
	}
	return spans
}

// ResolveValue walks value, resolving every {{expression}} found in string
// fields against ctx, recursing through maps and slices. Non-string,
// non-container values pass through unchanged.
func ResolveValue(value any, ctx TaskContext) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			resolved, err := ResolveValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			resolved, err := ResolveValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolveString(s string, ctx TaskContext) (any, error) {
	spans := scanPlaceholders(s)
	if len(spans) == 0 {
		return s, nil
	}
	if len(spans) == 1 && spans[0].start == 0 && spans[0].end == len(s) {
		return evalExpression(spans[0].expr, ctx)
	}

	var sb strings.Builder
	last := 0
	for _, sp := range spans {
		sb.WriteString(s[last:sp.start])
		val, err := evalExpression(sp.expr, ctx)
		if err != nil {
			return nil, err
		}
		text, err := stringifyValue(val)
		if err != nil {
			return nil, err
		}
		sb.WriteString(text)
		last = sp.end
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

func stringifyValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("serialize %T: %w", v, err)
		}
		return string(b), nil
	}
}

// evalExpression resolves a dot-separated path. The first segment names
// "input" or a sibling task id; later segments are field names or
// name[index] array indexing.
func evalExpression(expr string, ctx TaskContext) (any, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	segments := strings.Split(expr, ".")

	rootName, rootIndices, err := parseSegment(segments[0])
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", expr, err)
	}
	root, ok := ctx[rootName]
	if !ok {
		return nil, fmt.Errorf("expression %q: unknown root %q", expr, rootName)
	}
	current, err := applyIndices(root, rootIndices)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", expr, err)
	}

	for _, seg := range segments[1:] {
		name, indices, err := parseSegment(seg)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", expr, err)
		}
		if name != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expression %q: %q is not an object", expr, seg)
			}
			val, ok := m[name]
			if !ok {
				return nil, fmt.Errorf("expression %q: missing field %q", expr, name)
			}
			current = val
		}
		current, err = applyIndices(current, indices)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", expr, err)
		}
	}
	return current, nil
}

// parseSegment splits "name[0][1]" into its field name (possibly empty,
// for a bare "[0]" segment) and its ordered list of indices.
func parseSegment(seg string) (string, []int, error) {
	bracket := strings.IndexByte(seg, '[')
	if bracket < 0 {
		return seg, nil, nil
	}
	name := seg[:bracket]
	rest := seg[bracket:]

	var indices []int
	for len(rest) > 0 {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("malformed index in %q", seg)
		}
		closeBracket := strings.IndexByte(rest, ']')
		if closeBracket < 0 {
			return "", nil, fmt.Errorf("unclosed index in %q", seg)
		}
		idx, err := strconv.Atoi(rest[1:closeBracket])
		if err != nil {
			return "", nil, fmt.Errorf("invalid index in %q: %w", seg, err)
		}
		indices = append(indices, idx)
		rest = rest[closeBracket+1:]
	}
	return name, indices, nil
}

func applyIndices(value any, indices []int) (any, error) {
	for _, idx := range indices {
		arr, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("value is not an array")
		}
		if idx < 0 || idx >= len(arr) {
			return nil, fmt.Errorf("index %d out of range", idx)
		}
		value = arr[idx]
	}
	return value, nil
}
