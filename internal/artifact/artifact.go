// Package artifact validates the documents the generation agent produces
// for each phase and drives bounded repair when a document fails its
// structural contract.
package artifact

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// WarningCode classifies one validation finding
type WarningCode string

const (
	WarnTooSmall          WarningCode = "too-small"
	WarnTooLarge          WarningCode = "too-large"
	WarnMissingSection    WarningCode = "missing-section"
	WarnMetaCommentary    WarningCode = "meta-commentary"
	WarnNoHeadings        WarningCode = "no-headings"
	WarnTruncated         WarningCode = "truncated"
	WarnMalformedEnvelope WarningCode = "malformed-envelope"
)

// Warning is one validation finding against an artifact
type Warning struct {
	Code   WarningCode
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Detail)
}

// section names one required heading and its accepted spelling variants.
// Matching is case-insensitive against heading lines only.
type section struct {
	Canonical string
	Variants  []string
}

// profile is the structural contract for one phase's artifact
type profile struct {
	MinBytes int
	MaxBytes int
	Sections []section
}

var profiles = map[string]profile{
	"spec": {
		MinBytes: 800, MaxBytes: 60_000,
		Sections: []section{
			{Canonical: "Overview", Variants: []string{"Summary", "Product Overview"}},
			{Canonical: "Requirements", Variants: []string{"Functional Requirements", "Features"}},
			{Canonical: "Non-Goals", Variants: []string{"Out of Scope", "Non Goals"}},
		},
	},
	"design": {
		MinBytes: 800, MaxBytes: 80_000,
		Sections: []section{
			{Canonical: "Architecture", Variants: []string{"System Architecture", "Architecture Overview"}},
			{Canonical: "Data Model", Variants: []string{"Data Models", "Schema"}},
			{Canonical: "API Design", Variants: []string{"API", "Endpoints", "API Surface"}},
		},
	},
	"plan": {
		MinBytes: 600, MaxBytes: 120_000,
		Sections: []section{
			{Canonical: "Milestones", Variants: []string{"Implementation Plan", "Phases"}},
			{Canonical: "Coverage Matrix", Variants: []string{"Coverage", "Requirement Coverage"}},
		},
	},
	"review": {
		MinBytes: 400, MaxBytes: 40_000,
		Sections: []section{
			{Canonical: "Findings", Variants: []string{"Issues", "Review Findings"}},
			{Canonical: "Overall Verdict", Variants: []string{"Verdict"}},
		},
	},
	"ship": {
		MinBytes: 300, MaxBytes: 40_000,
		Sections: []section{
			{Canonical: "Ship Readiness", Variants: []string{"Readiness", "Release Readiness"}},
		},
	},
}

// Envelope is the machine-readable marker every artifact must close with.
// The agent is told to emit it verbatim; its absence usually means the
// document was cut off or the instructions were ignored.
var envelopeRe = regexp.MustCompile(`(?m)^<!-- appforge:artifact phase=([a-z]+) complete=(true|false) -->\s*$`)

// EnvelopeFor returns the marker line the given phase's artifact must end with
func EnvelopeFor(phaseID string) string {
	return fmt.Sprintf("<!-- appforge:artifact phase=%s complete=true -->", phaseID)
}

var (
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*$`)
	preambleRe = regexp.MustCompile(`(?i)^\s*(sure|certainly|of course|here is|here's|i've |i have |i'll |great question|as an ai)`)
)

// Validate checks content against the phase's structural contract and
// returns every finding. An empty slice means the artifact is acceptable
// as-is. Phases without a profile only get the generic checks.
func Validate(phaseID, content string) []Warning {
	var warnings []Warning
	p, hasProfile := profiles[phaseID]

	trimmed := strings.TrimSpace(content)
	if hasProfile {
		if len(trimmed) < p.MinBytes {
			warnings = append(warnings, Warning{WarnTooSmall,
				fmt.Sprintf("artifact is %d bytes, minimum is %d", len(trimmed), p.MinBytes)})
		}
		if p.MaxBytes > 0 && len(trimmed) > p.MaxBytes {
			warnings = append(warnings, Warning{WarnTooLarge,
				fmt.Sprintf("artifact is %d bytes, maximum is %d", len(trimmed), p.MaxBytes)})
		}
	}

	headings := headingSet(content)
	if len(headings) == 0 {
		warnings = append(warnings, Warning{WarnNoHeadings, "artifact has no markdown headings"})
	}
	if hasProfile {
		for _, missing := range MissingSections(phaseID, content) {
			warnings = append(warnings, Warning{WarnMissingSection,
				fmt.Sprintf("required section %q not found", missing)})
		}
	}

	if preambleRe.MatchString(content) {
		warnings = append(warnings, Warning{WarnMetaCommentary,
			"artifact opens with conversational preamble instead of content"})
	}

	if truncated(trimmed) {
		warnings = append(warnings, Warning{WarnTruncated,
			"artifact ends mid-word without terminal punctuation"})
	}

	if m := envelopeRe.FindStringSubmatch(content); m == nil {
		warnings = append(warnings, Warning{WarnMalformedEnvelope, "output envelope marker missing"})
	} else if m[1] != phaseID || m[2] != "true" {
		warnings = append(warnings, Warning{WarnMalformedEnvelope,
			fmt.Sprintf("envelope declares phase=%s complete=%s", m[1], m[2])})
	}

	return warnings
}

// MissingSections returns the canonical names of required sections no
// heading variant matched.
func MissingSections(phaseID, content string) []string {
	p, ok := profiles[phaseID]
	if !ok {
		return nil
	}
	headings := headingSet(content)
	var missing []string
	for _, sec := range p.Sections {
		if !sectionPresent(sec, headings) {
			missing = append(missing, sec.Canonical)
		}
	}
	return missing
}

func sectionPresent(sec section, headings map[string]bool) bool {
	if headings[strings.ToLower(sec.Canonical)] {
		return true
	}
	for _, v := range sec.Variants {
		if headings[strings.ToLower(v)] {
			return true
		}
	}
	return false
}

func headingSet(content string) map[string]bool {
	set := make(map[string]bool)
	for _, m := range headingRe.FindAllStringSubmatch(content, -1) {
		set[strings.ToLower(strings.TrimSpace(m[1]))] = true
	}
	return set
}

// truncated reports whether content ends mid-word: a trailing letter or
// digit with no terminal punctuation anywhere near the end. Envelope and
// code-fence endings are fine.
func truncated(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "-->") || strings.HasSuffix(trimmed, "```") {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return unicode.IsLetter(last) || unicode.IsDigit(last) || last == ','
}

// actionable warnings justify a repair call; the rest are cosmetic
var actionable = map[WarningCode]bool{
	WarnMissingSection:    true,
	WarnMetaCommentary:    true,
	WarnTooSmall:          true,
	WarnMalformedEnvelope: true,
}

// ShouldRepair reports whether any warning is worth an agent repair call
func ShouldRepair(warnings []Warning) bool {
	for _, w := range warnings {
		if actionable[w.Code] {
			return true
		}
	}
	return false
}
