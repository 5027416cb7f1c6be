// Package phone normalizes Argentine WhatsApp numbers. The provider reports the
// same mobile subscriber under two encodings: "549" + area + local (the wa_id
// form) and "54" + area + "15" + local (the trunk form shown while onboarding).
// Both must collapse to one canonical identity, and outbound sends must be able
// to probe both.
package phone

import (
	"regexp"
	"strings"
)

var (
	nonDigits   = regexp.MustCompile(`\D`)
	trunkPrefix = regexp.MustCompile(`^(\d{2,4})15`)
)

// Canonicalizer maps raw digit strings to a canonical id and to the ordered
// list of send-candidate encodings.
type Canonicalizer struct {
	countryCode string
	preferTrunk bool
}

// New creates a Canonicalizer. countryCode defaults to "54" when empty.
func New(countryCode string, preferTrunk bool) *Canonicalizer {
	countryCode = strings.TrimSpace(countryCode)
	if countryCode == "" {
		countryCode = "54"
	}
	return &Canonicalizer{countryCode: countryCode, preferTrunk: preferTrunk}
}

// Canonicalize returns the single normalized identity for a raw number, in the
// form "+<countrycode>9<area><local>". It never fails: inputs that cannot be
// decomposed fall back to "+" plus their digits, and an input with no digits
// at all yields "".
func (c *Canonicalizer) Canonicalize(raw string) string {
	digits := Digits(raw)
	if digits == "" {
		return ""
	}
	area, local, ok := c.split(digits)
	if !ok {
		return "+" + digits
	}
	return "+" + c.mobileForm(area, local)
}

// SendCandidates returns the ordered digit strings to try against the send
// API: the mobile-prefixed form and the trunk-prefixed sibling. The preference
// flag decides which goes first. Same input, same output.
func (c *Canonicalizer) SendCandidates(raw string) []string {
	digits := Digits(raw)
	if digits == "" {
		return nil
	}
	area, local, ok := c.split(digits)
	if !ok {
		return []string{digits}
	}
	mobile := c.mobileForm(area, local)
	trunk := c.trunkForm(area, local)
	if c.preferTrunk {
		return []string{trunk, mobile}
	}
	return []string{mobile, trunk}
}

// split reduces a digit string to (area, local), undoing international
// prefixes and both mobile encodings.
func (c *Canonicalizer) split(digits string) (string, string, bool) {
	d := strings.TrimPrefix(digits, "00")
	d = strings.TrimPrefix(d, c.countryCode)
	d = strings.TrimPrefix(d, "0")
	if strings.HasPrefix(d, "9") {
		d = d[1:]
	} else {
		d = trunkPrefix.ReplaceAllString(d, "$1")
	}
	// Area heuristic: 3 digits when there is room for a full-length local
	// number, else 2. Matches what the provider accepts in practice.
	areaLen := 2
	if len(d) >= 10 {
		areaLen = 3
	}
	if len(d) <= areaLen {
		return "", "", false
	}
	return d[:areaLen], d[areaLen:], true
}

func (c *Canonicalizer) mobileForm(area, local string) string {
	return c.countryCode + "9" + area + local
}

func (c *Canonicalizer) trunkForm(area, local string) string {
	return c.countryCode + area + "15" + local
}

// Digits strips everything but 0-9 from a string.
func Digits(value string) string {
	return nonDigits.ReplaceAllString(value, "")
}
