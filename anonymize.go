package main

import (
	"fmt"
	"log"
	"strings"
)

// AnonymizationMap is the session-scoped bijection between response labels
// and model identities. Labels holds the labels in Stage 1 submission order.
type AnonymizationMap struct {
	Labels       []string
	LabelToModel map[string]string
}

// ModelFor returns the model behind a label.
func (m *AnonymizationMap) ModelFor(label string) (string, bool) {
	model, ok := m.LabelToModel[label]
	return model, ok
}

// labelLetters converts a 0-based index to A..Z, then AA, AB, ...
func labelLetters(i int) string {
	var b []byte
	for i >= 0 {
		b = append([]byte{byte('A' + i%26)}, b...)
		i = i/26 - 1
	}
	return string(b)
}

// responseLabel returns the anonymization label for a 0-based submission index.
func responseLabel(i int) string {
	return "Response " + labelLetters(i)
}

// AnonymizeResponses assigns labels to Stage 1 responses in submission order
// and formats them for the ranking prompt. Re-running on the same ordered
// input always yields the same map.
func AnonymizeResponses(stage1Results []Stage1Response) (string, *AnonymizationMap) {
	anon := &AnonymizationMap{
		Labels:       make([]string, 0, len(stage1Results)),
		LabelToModel: make(map[string]string, len(stage1Results)),
	}

	var responsesText strings.Builder
	for i, result := range stage1Results {
		label := responseLabel(i)
		anon.Labels = append(anon.Labels, label)
		anon.LabelToModel[label] = result.Model

		responsesText.WriteString(fmt.Sprintf("%s:\n%s\n\n", label, result.Response))
	}

	log.Printf("Anonymized %d responses with labels %v", len(stage1Results), anon.Labels)

	return responsesText.String(), anon
}

// DeAnonymizeText replaces every label occurrence with "label (model)".
// Labels not in the map are left untouched, as is all other text. The single
// whole-token pass means "Response A" never matches inside "Response AA".
func DeAnonymizeText(text string, anon *AnonymizationMap) string {
	return responseLabelPattern.ReplaceAllStringFunc(text, func(match string) string {
		if model, ok := anon.ModelFor(match); ok {
			return fmt.Sprintf("%s (%s)", match, model)
		}
		return match
	})
}
