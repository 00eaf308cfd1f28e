package main

import (
	"regexp"
	"strings"
)

// RankingMarker is the header reviewers are instructed to put before their
// final ranking.
const RankingMarker = "FINAL RANKING:"

var (
	responseLabelPattern   = regexp.MustCompile(`Response [A-Z]+`)
	numberedRankingPattern = regexp.MustCompile(`\d+\.\s*Response [A-Z]+`)

	// A line that is exactly one ranking entry, numbered or bare.
	rankingLinePattern = regexp.MustCompile(`^(?:\d+\.\s*)?Response [A-Z]+$`)
)

// ParseRankingFromText extracts an ordered list of labels from a reviewer's
// free-text output. The marker strategy reads the contiguous list directly
// after "FINAL RANKING:" (numbered entries first, then bare labels), stopping
// at the first line that is not a ranking entry; if the marker is absent or
// yields nothing valid, the whole text is scanned in first-appearance order.
// Labels outside validLabels are dropped silently, repeats keep their first
// occurrence only, and an empty result is a valid non-vote, not an error.
func ParseRankingFromText(rankingText string, validLabels []string) []string {
	validSet := make(map[string]bool, len(validLabels))
	for _, label := range validLabels {
		validSet[label] = true
	}

	filterDedup := func(matches []string) []string {
		seen := make(map[string]bool, len(matches))
		results := []string{}
		for _, label := range matches {
			if validSet[label] && !seen[label] {
				seen[label] = true
				results = append(results, label)
			}
		}
		return results
	}

	if idx := strings.Index(rankingText, RankingMarker); idx >= 0 {
		rankingSection := rankingText[idx+len(RankingMarker):]

		// Only the contiguous list right after the marker counts; a label
		// mentioned in trailing prose is commentary, not a ranking entry.
		var listLines []string
		for _, line := range strings.Split(rankingSection, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if !rankingLinePattern.MatchString(trimmed) {
				break
			}
			listLines = append(listLines, trimmed)
		}
		block := strings.Join(listLines, "\n")

		// Try the numbered list format first (e.g., "1. Response A")
		numberedMatches := numberedRankingPattern.FindAllString(block, -1)
		if len(numberedMatches) > 0 {
			labels := make([]string, 0, len(numberedMatches))
			for _, match := range numberedMatches {
				labels = append(labels, responseLabelPattern.FindString(match))
			}
			if results := filterDedup(labels); len(results) > 0 {
				return results
			}
		}

		// Bare labels inside the list block
		if results := filterDedup(responseLabelPattern.FindAllString(block, -1)); len(results) > 0 {
			return results
		}
	}

	// Fallback: scan the whole text in order of first appearance
	return filterDedup(responseLabelPattern.FindAllString(rankingText, -1))
}
