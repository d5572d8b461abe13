package skills

import "strings"

// Invocation is a parsed skill invocation: the name token that followed
// the leading '/' (qualified as "plugin:skill" or simple as "skill"), and
// the trimmed remainder of the message as a raw, not-yet-split argument
// string.
type Invocation struct {
	Name string
	Args string
}

// ParseInvocation detects whether message is a skill invocation. After
// trimming surrounding whitespace, message must start with '/' followed by
// a name built from lowercase letters, digits, and hyphens, optionally
// containing exactly one ':' separating a plugin namespace from the skill
// name (both sides of the ':' non-empty). Everything after the name,
// trimmed, becomes Args. Anything else returns ok=false.
func ParseInvocation(message string) (inv Invocation, ok bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "/") {
		return Invocation{}, false
	}
	rest := trimmed[1:]

	end := 0
	colons := 0
	for end < len(rest) {
		r := rest[end]
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			end++
		case r == ':':
			colons++
			if colons > 1 {
				return Invocation{}, false
			}
			end++
		default:
			goto scanned
		}
	}
scanned:
	name := rest[:end]
	if name == "" {
		return Invocation{}, false
	}
	if colons == 1 {
		parts := strings.SplitN(name, ":", 2)
		if parts[0] == "" || parts[1] == "" {
			return Invocation{}, false
		}
	}

	args := strings.TrimSpace(rest[end:])
	return Invocation{Name: name, Args: args}, true
}
