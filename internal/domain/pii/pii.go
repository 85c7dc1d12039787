// Package pii scrubs PII-shaped substrings (emails, SSNs, phone numbers,
// IPv4 addresses) out of free-text fields before they reach an exported
// evidence pack, per AGENTGATE_PII_MODE.
package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Mode selects how matched substrings are handled.
type Mode string

const (
	// ModeOff leaves text untouched.
	ModeOff Mode = "off"
	// ModeRedact replaces a match with a fixed "[REDACTED_<LABEL>]" marker.
	ModeRedact Mode = "redact"
	// ModeTokenize replaces a match with a deterministic, salted token so
	// the same value always maps to the same token within one deployment.
	ModeTokenize Mode = "tokenize"
)

type pattern struct {
	label string
	re    *regexp.Regexp
}

var patterns = []pattern{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"phone", regexp.MustCompile(`\+?\d[\d\-\s()]{7,}\d`)},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// ScrubText applies mode to value, returning it unchanged for ModeOff or
// an unrecognized mode.
func ScrubText(value string, mode Mode, salt string) string {
	if mode != ModeRedact && mode != ModeTokenize || value == "" {
		return value
	}
	scrubbed := value
	for _, p := range patterns {
		switch mode {
		case ModeRedact:
			scrubbed = p.re.ReplaceAllString(scrubbed, "[REDACTED_"+upper(p.label)+"]")
		case ModeTokenize:
			scrubbed = p.re.ReplaceAllStringFunc(scrubbed, func(match string) string {
				return tokenize(p.label, match, salt)
			})
		}
	}
	return scrubbed
}

func tokenize(label, value, salt string) string {
	sum := sha256.Sum256([]byte(salt + ":" + label + ":" + value))
	return fmt.Sprintf("tok_%s_%s", label, hex.EncodeToString(sum[:])[:12])
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
