package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameLen = 100

// ParseName validates a domain name at the boundary. Names become content
// store path segments (outputs/<task>/<name>/...) and map keys, so path
// separators and control characters are rejected outright rather than
// escaped or substituted.
func ParseName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("domain name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", fmt.Errorf("domain name %q exceeds %d characters", name, maxNameLen)
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("domain name %q must not contain path separators", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("domain name %q contains control characters", name)
		}
	}
	return name, nil
}

// ParseNames validates a roster, rejecting duplicates after trimming.
func ParseNames(raw []string) ([]string, error) {
	names := make([]string, 0, len(raw))
	seen := map[string]bool{}
	for _, r := range raw {
		name, err := ParseName(r)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate domain name %q", name)
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// IsURL reports whether an attachment reference is an external URL rather
// than a content-store path. Paths never start with a scheme prefix.
func IsURL(ref string) bool {
	idx := strings.Index(ref, "://")
	if idx <= 0 {
		return false
	}
	for _, r := range ref[:idx] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	first := ref[0]
	return first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z'
}
