package analysis

const maxFileBytes = 10 * 1024 * 1024

const pdfContentType = "application/pdf"

// ValidationError is a client-side rejection raised before any network
// activity. Title and Detail are user-facing notice text.
type ValidationError struct {
	Title  string
	Detail string
}

func (e *ValidationError) Error() string {
	return "analysis: " + e.Title + ": " + e.Detail
}

// ValidateFile enforces the pre-dispatch rules: PDF documents only, at most
// 10 MB.
func ValidateFile(f *File) error {
	if f == nil {
		return &ValidationError{Title: "No file selected", Detail: "Please choose a PDF document"}
	}
	if f.ContentType != pdfContentType {
		return &ValidationError{Title: "Invalid file type", Detail: "Please upload a PDF document"}
	}
	if f.Size > maxFileBytes {
		return &ValidationError{Title: "File too large", Detail: "Please upload a file smaller than 10MB"}
	}
	return nil
}
