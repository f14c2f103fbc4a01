// Package extract is responsible for turning a fully-resolved share URL
// in to the canonical clip identifier used as the cache and storage key.
// Short links (vt.tiktok.com/...) must be resolved to their canonical
// form BEFORE being passed to this package.
package extract

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is returned when no clip identifier could be
// extracted from the URL provided. The API layer maps this to a 400.
var ErrInvalidIdentifier = errors.New("no clip identifier could be extracted from URL")

const canonicalIDLength = 19

var (
	typedSegmentMatcher = regexp.MustCompile(`/(?:video|photo)/(\d+)`)
	digitRunMatcher     = regexp.MustCompile(`\d{10,}`)
)

// ClipID extracts the canonical clip identifier from a resolved share URL.
//
// Extraction is attempted in a defined priority order:
//  1. A typed path segment ('/video/<id>' or '/photo/<id>') whose identifier
//     has the exact canonical digit length.
//  2. A typed path segment with any identifier length.
//  3. The longest bare digit run of at least 10 digits anywhere in the URL.
//
// If none of the above match, ErrInvalidIdentifier is returned.
func ClipID(resolvedURL string) (string, error) {
	trimmed := strings.TrimSpace(resolvedURL)
	if trimmed == "" {
		return "", ErrInvalidIdentifier
	}

	// Only consider the path when a typed segment is present; query params
	// and fragments routinely contain unrelated numeric noise.
	candidatePath := trimmed
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Path != "" {
		candidatePath = parsed.Path
	}

	typedMatches := typedSegmentMatcher.FindAllStringSubmatch(candidatePath, -1)
	for _, match := range typedMatches {
		if len(match[1]) == canonicalIDLength {
			return match[1], nil
		}
	}
	if len(typedMatches) > 0 {
		return typedMatches[0][1], nil
	}

	if run := longestDigitRun(trimmed); run != "" {
		return run, nil
	}

	return "", ErrInvalidIdentifier
}

// longestDigitRun finds the longest run of 10 or more consecutive digits
// in the input. An empty string is returned when no such run exists.
func longestDigitRun(input string) string {
	runs := digitRunMatcher.FindAllString(input, -1)

	best := ""
	for _, run := range runs {
		if len(run) > len(best) {
			best = run
		}
	}

	return best
}
