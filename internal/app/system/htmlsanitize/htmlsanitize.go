// Package htmlsanitize cleans user-supplied file and folder names.
// Names are rendered by web and mobile clients, so markup is stripped with
// bluemonday before a name is stored.
package htmlsanitize

import (
	"errors"
	"html"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameBytes is the longest name accepted, in bytes.
const MaxNameBytes = 255

// ErrInvalidName is returned for names that are empty after cleaning or that
// cannot name an item.
var ErrInvalidName = errors.New("invalid name")

var (
	// policy strips every tag; names never carry markup.
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// StripTags removes all HTML from s and returns plain text.
func StripTags(s string) string {
	if s == "" {
		return ""
	}
	// bluemonday escapes the text it keeps; names are stored unescaped.
	return html.UnescapeString(getPolicy().Sanitize(s))
}

// CleanName returns the stored form of a file or folder name: tags stripped,
// control characters removed, and surrounding whitespace trimmed.
func CleanName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", ErrInvalidName
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	cleaned = strings.TrimSpace(StripTags(cleaned))

	switch {
	case cleaned == "", cleaned == ".", cleaned == "..":
		return "", ErrInvalidName
	case strings.ContainsAny(cleaned, `/\`):
		return "", ErrInvalidName
	case len(cleaned) > MaxNameBytes:
		return "", ErrInvalidName
	}
	return cleaned, nil
}
