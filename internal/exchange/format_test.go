package exchange

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"docchat/internal/domain"
)

func TestFormatResponse_ErrorWinsOverEverything(t *testing.T) {
	resp := domain.AnalysisResponse{
		Message: "ok",
		Error:   "Bad PDF",
		Analysis: &domain.Analysis{
			Summary:     "ignored",
			KeyFindings: []string{"also ignored"},
		},
	}
	require.Equal(t, "Error: Bad PDF", FormatResponse(resp))
}

func TestFormatResponse_AllSections(t *testing.T) {
	resp := domain.AnalysisResponse{
		Message: "Here is what I found.",
		Analysis: &domain.Analysis{
			Summary:         "A routine blood panel.",
			KeyFindings:     []string{"LDL slightly elevated", "Vitamin D low"},
			Recommendations: []string{"Retest in 3 months"},
			FollowUp:        "Discuss statins with your physician.",
		},
	}
	want := "Here is what I found.\n\n" +
		"Summary\nA routine blood panel.\n\n" +
		"Key Findings\n- LDL slightly elevated\n- Vitamin D low\n\n" +
		"Recommendations\n- Retest in 3 months\n\n" +
		"Follow-up\nDiscuss statins with your physician."
	require.Equal(t, want, FormatResponse(resp))
}

func TestFormatResponse_EmptySectionsOmitted(t *testing.T) {
	resp := domain.AnalysisResponse{
		Message: "Partial result.",
		Analysis: &domain.Analysis{
			KeyFindings: []string{"one thing"},
		},
	}
	require.Equal(t, "Partial result.\n\nKey Findings\n- one thing", FormatResponse(resp))
}

func TestFormatResponse_MessageOnly(t *testing.T) {
	require.Equal(t, "Just a chat reply.",
		FormatResponse(domain.AnalysisResponse{Message: "Just a chat reply."}))
}

func TestFormatMessage_PlainText(t *testing.T) {
	msg := domain.Message{Type: domain.MessageUser, Content: domain.PlainContent("hello")}
	require.Equal(t, "hello", FormatMessage(msg))
}

// The formatted view must be re-derivable from the persisted raw content
// after a serialization round trip.
func TestFormatMessage_StableAcrossPersistenceRoundTrip(t *testing.T) {
	msg := domain.Message{
		ID:   "m1",
		Type: domain.MessageSystem,
		Content: domain.AnalysisContent(domain.AnalysisResponse{
			Message:  "Done.",
			Analysis: &domain.Analysis{Summary: "All clear.", FollowUp: "None."},
		}),
	}
	before := FormatMessage(msg)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	var reloaded domain.Message
	require.NoError(t, json.Unmarshal(raw, &reloaded))

	require.Equal(t, before, FormatMessage(reloaded))
}

func TestRawResponse(t *testing.T) {
	msg := domain.Message{
		Type:    domain.MessageSystem,
		Content: domain.AnalysisContent(domain.AnalysisResponse{Message: "ok"}),
	}
	raw, ok := RawResponse(msg)
	require.True(t, ok)
	require.Contains(t, raw, `"message": "ok"`)

	_, ok = RawResponse(domain.Message{Content: domain.PlainContent("plain")})
	require.False(t, ok)
}
