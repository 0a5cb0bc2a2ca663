package vocab

import (
	"fmt"
	"regexp"
	"strings"
)

var callPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*)\s*(?:\((.*)\))?\s*[;.]?$`)

// ParseCall splits the textual form Verb(arg1, arg2) into verb and args.
// Bare verbs (MoveAhead) and empty parentheses yield no args. Quotes around
// individual args are removed. ParseCall checks syntax only; use Check for
// vocabulary membership and arity.
//
// Expectations:
//   - "PickupObject(Mug_1)" → "PickupObject", ["Mug_1"]
//   - "MoveAhead" and "MoveAhead()" → "MoveAhead", []
//   - `Teleport(1, 0.9, "2")` → "Teleport", ["1","0.9","2"]
//   - Unbalanced or non-identifier input → error
func ParseCall(s string) (string, []string, error) {
	s = strings.TrimSpace(s)
	m := callPattern.FindStringSubmatch(s)
	if m == nil {
		return "", nil, fmt.Errorf("not an action call")
	}
	verb, inner := m[1], strings.TrimSpace(m[2])
	if strings.ContainsAny(inner, "()") {
		return "", nil, fmt.Errorf("nested parentheses")
	}
	if inner == "" {
		return verb, []string{}, nil
	}
	parts := strings.Split(inner, ",")
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`+"`")
		if p == "" {
			return "", nil, fmt.Errorf("empty argument")
		}
		args = append(args, p)
	}
	return verb, args, nil
}
