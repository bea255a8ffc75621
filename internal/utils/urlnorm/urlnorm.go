// Package urlnorm turns raw pasted input lines into canonical website URLs.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidInput is returned for lines that cannot be turned into a URL.
var ErrInvalidInput = errors.New("invalid input line")

// Input is one normalized unit of work: the raw line as pasted plus the
// canonical scheme://authority form the checkers append suffixes to.
type Input struct {
	Raw string
	URL string
}

// Normalize cleans a single raw line into a canonical website URL.
// It trims whitespace and surrounding quotes, defaults the scheme to
// https, and strips path/query/fragment down to scheme+authority.
// www/non-www and http/https ambiguity is left to homepage detection.
func Normalize(line string) (Input, error) {
	raw := strings.TrimSpace(line)
	cleaned := strings.Trim(raw, `"'`)
	if cleaned == "" {
		return Input{}, fmt.Errorf("%w: empty line", ErrInvalidInput)
	}
	if strings.ContainsAny(cleaned, " \t") {
		return Input{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidInput, raw)
	}
	if !strings.HasPrefix(cleaned, "http://") && !strings.HasPrefix(cleaned, "https://") {
		cleaned = "https://" + cleaned
	}
	u, err := url.Parse(cleaned)
	if err != nil {
		return Input{}, fmt.Errorf("%w: %q: %v", ErrInvalidInput, raw, err)
	}
	if u.Host == "" || !strings.Contains(u.Host, ".") {
		return Input{}, fmt.Errorf("%w: %q has no host", ErrInvalidInput, raw)
	}
	return Input{Raw: raw, URL: u.Scheme + "://" + u.Host}, nil
}

// NormalizeAll normalizes every line, preserving first-occurrence order.
// Invalid lines are skipped and returned separately; duplicates are kept.
func NormalizeAll(lines []string) (items []Input, rejected []string) {
	for _, line := range lines {
		in, err := Normalize(line)
		if err != nil {
			if strings.TrimSpace(line) != "" {
				rejected = append(rejected, strings.TrimSpace(line))
			}
			continue
		}
		items = append(items, in)
	}
	return items, rejected
}

// SplitLines breaks a pasted textarea blob into individual lines.
func SplitLines(blob string) []string {
	return strings.FieldsFunc(blob, func(r rune) bool { return r == '\n' || r == '\r' })
}
