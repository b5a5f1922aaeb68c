package domain

// AnalysisResponse is the wire shape returned by the document-analysis
// endpoint. A non-empty Error marks a logical failure from the remote
// service; transport failures never produce a response at all.
type AnalysisResponse struct {
	Message  string    `json:"message"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Analysis carries the structured result of a document analysis. Every
// field is optional; absent fields are omitted from the rendered view.
type Analysis struct {
	Summary         string   `json:"summary,omitempty"`
	KeyFindings     []string `json:"keyFindings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	FollowUp        string   `json:"followUp,omitempty"`
}
