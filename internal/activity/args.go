package activity

import (
	"fmt"
	"regexp"
	"strconv"
)

var coordRe = regexp.MustCompile(`^\((-?\d+),(-?\d+)\)$`)

// ParseCoord parses a "(x,y)" coordinate token.
func ParseCoord(token string) (int, int, error) {
	m := coordRe.FindStringSubmatch(token)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid coordinate %q, want (x,y)", token)
	}
	x, _ := strconv.Atoi(m[1])
	y, _ := strconv.Atoi(m[2])
	return x, y, nil
}

// ParseCount parses a positive integer token; 0 means unbounded.
func ParseCount(token string) (int, error) {
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid count %q", token)
	}
	return n, nil
}

// HasFlag reports whether a flag token is present in the argument list.
func HasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// Positional returns the non-flag arguments after the character name.
func Positional(args []string) []string {
	var out []string
	for i, a := range args {
		if i == 0 {
			continue // character
		}
		if len(a) >= 2 && a[:2] == "--" {
			continue
		}
		out = append(out, a)
	}
	return out
}
