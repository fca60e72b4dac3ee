// Copyright 2026 TutorGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"regexp"
	"strings"
)

// PIIDetector rewrites personally identifiable information in text bound
// for third-party LLM providers. Detection never blocks a request; it only
// substitutes fixed tokens and reports what it found.
type PIIDetector struct {
	patterns []piiPattern
}

// piiPattern is one detectable PII category. Validator, when set, filters
// regex matches that are shaped right but fail a semantic check (Luhn).
type piiPattern struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
	validator   func(string) bool
}

// PIIResult reports a sanitation pass.
type PIIResult struct {
	Sanitized string
	Detected  bool
	Types     []string
}

// NewPIIDetector builds the detector with the default category set:
// emails, national-ID numbers (7-8 digits), phone numbers (8-12 digits
// with optional separators), and 16-digit card numbers validated by Luhn.
func NewPIIDetector() *PIIDetector {
	return &PIIDetector{
		patterns: []piiPattern{
			{
				name:        "email",
				pattern:     regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
				replacement: "[EMAIL_REDACTED]",
			},
			{
				name:        "card",
				pattern:     regexp.MustCompile(`\b(?:\d[ \-]?){15}\d\b`),
				replacement: "[CARD_REDACTED]",
				validator:   luhnValid,
			},
			{
				name:        "phone",
				pattern:     regexp.MustCompile(`\+\d{1,3}[ \-]?\d{2,4}([ \-]?\d{2,4}){1,3}\b|\b\d{3,4}[ \-]\d{3,4}[ \-]?\d{0,4}\b`),
				replacement: "[PHONE_REDACTED]",
				validator:   phoneDigitCount,
			},
			{
				name:        "national_id",
				pattern:     regexp.MustCompile(`\b\d{7,8}\b`),
				replacement: "[DNI_REDACTED]",
			},
		},
	}
}

// Sanitize scans text and replaces every PII match with its fixed token.
// Categories are applied in order so card numbers are consumed before the
// national-id rule can see their digit runs.
func (d *PIIDetector) Sanitize(text string) PIIResult {
	result := PIIResult{Sanitized: text}
	for _, p := range d.patterns {
		found := false
		result.Sanitized = p.pattern.ReplaceAllStringFunc(result.Sanitized, func(match string) string {
			if p.validator != nil && !p.validator(match) {
				return match
			}
			found = true
			return p.replacement
		})
		if found {
			result.Detected = true
			result.Types = append(result.Types, p.name)
		}
	}
	return result
}

// ContainsPII reports whether text matches any category without rewriting.
func (d *PIIDetector) ContainsPII(text string) bool {
	for _, p := range d.patterns {
		loc := p.pattern.FindAllString(text, -1)
		for _, match := range loc {
			if p.validator == nil || p.validator(match) {
				return true
			}
		}
	}
	return false
}

// luhnValid checks the Luhn checksum over the digits of a candidate card
// number, ignoring separators.
func luhnValid(candidate string) bool {
	digits := digitsOnly(candidate)
	if len(digits) != 16 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// phoneDigitCount keeps phone matches inside the conservative 8-12 digit
// range; shorter runs are more likely ordinary numbers in prose.
func phoneDigitCount(candidate string) bool {
	n := len(digitsOnly(candidate))
	return n >= 8 && n <= 12
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
