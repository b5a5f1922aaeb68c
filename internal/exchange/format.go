package exchange

import (
	"encoding/json"
	"strings"

	"docchat/internal/domain"
)

// FormatResponse renders an analysis response for display. Pure: the same
// response always yields the same text, and the stored message content is
// never mutated, so a reloaded conversation re-derives the identical view.
//
// An error response renders only the error, distinctly marked. Otherwise
// the message is followed by whichever analysis subsections are present,
// each under its own label, empty subsections omitted.
func FormatResponse(resp domain.AnalysisResponse) string {
	if resp.Error != "" {
		return "Error: " + resp.Error
	}
	if resp.Analysis == nil {
		return resp.Message
	}

	var sections []string
	if resp.Message != "" {
		sections = append(sections, resp.Message)
	}
	if s := resp.Analysis.Summary; s != "" {
		sections = append(sections, "Summary\n"+s)
	}
	if items := resp.Analysis.KeyFindings; len(items) > 0 {
		sections = append(sections, "Key Findings\n"+bulleted(items))
	}
	if items := resp.Analysis.Recommendations; len(items) > 0 {
		sections = append(sections, "Recommendations\n"+bulleted(items))
	}
	if f := resp.Analysis.FollowUp; f != "" {
		sections = append(sections, "Follow-up\n"+f)
	}
	return strings.Join(sections, "\n\n")
}

// FormatMessage renders any message for display: plain text as-is,
// structured analysis content through FormatResponse.
func FormatMessage(msg domain.Message) string {
	if msg.Content.Kind == domain.ContentAnalysis && msg.Content.Analysis != nil {
		return FormatResponse(*msg.Content.Analysis)
	}
	return msg.Content.Text
}

// RawResponse returns the persisted raw analysis payload of a message as
// indented JSON, for the raw-response inspection view. ok is false for
// plain messages.
func RawResponse(msg domain.Message) (string, bool) {
	if msg.Content.Kind != domain.ContentAnalysis || msg.Content.Analysis == nil {
		return "", false
	}
	raw, err := json.MarshalIndent(msg.Content.Analysis, "", "  ")
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func bulleted(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}
