// Package analysis is the HTTP client for the remote document-analysis
// endpoint. Text-only requests go out as a JSON body; requests carrying a
// staged file are transmitted as multipart form data. The endpoint itself
// is an opaque black box; this package only owns the request/response
// contract and its failure normalization.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"docchat/internal/domain"
	"docchat/internal/integrations/paramstore"
)

const genericRemoteError = "An error occurred while analyzing the document."

// Request is one call to the analysis endpoint: a message, a file, or both.
type Request struct {
	Message string
	File    *File
}

// File is a binary attachment with name and size.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// NewFile builds a File from in-memory data.
func NewFile(name, contentType string, data []byte) *File {
	return &File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}
}

// HTTPStatusError captures non-2xx responses whose body carried no usable
// remote error message.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("analysis: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the analysis endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client

	getter   paramstore.Getter
	keyParam string
	keyOnce  sync.Once
	apiKey   string
	keyErr   error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey configures an x-api-key header resolved from the given
// parameter on the first request and cached for the process lifetime.
func WithAPIKey(getter paramstore.Getter, parameterName string) Option {
	return func(c *Client) {
		c.getter = getter
		c.keyParam = parameterName
	}
}

// NewClient creates a client for the analysis endpoint URL.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("analysis: endpoint must not be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Analyze sends the request and returns the decoded response.
//
// Failure normalization: a non-2xx status whose body carries an error field
// comes back as an ordinary response with Error set (the remote text is
// preferred as the displayed error). Network failures, unparseable bodies
// and error-less non-2xx statuses return a Go error for the caller's
// generic failure path.
func (c *Client) Analyze(ctx context.Context, req Request) (domain.AnalysisResponse, error) {
	var (
		body        *bytes.Buffer
		contentType string
		err         error
	)
	if req.File != nil {
		body, contentType, err = multipartBody(req)
	} else {
		body, contentType, err = jsonBody(req)
	}
	if err != nil {
		return domain.AnalysisResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return domain.AnalysisResponse{}, fmt.Errorf("analysis: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if c.keyParam != "" {
		apiKey, keyErr := c.resolveAPIKey(ctx)
		if keyErr != nil {
			return domain.AnalysisResponse{}, keyErr
		}
		httpReq.Header.Set("x-api-key", apiKey)
	}

	res, err := c.resolvedHTTPClient().Do(httpReq)
	if err != nil {
		return domain.AnalysisResponse{}, fmt.Errorf("analysis: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.AnalysisResponse{}, fmt.Errorf("analysis: read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return domain.AnalysisResponse{}, c.statusError(res.StatusCode, raw)
	}

	var payload domain.AnalysisResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.AnalysisResponse{}, fmt.Errorf("analysis: decode response: %w", err)
	}
	return payload, nil
}

// statusError mines a non-2xx body for its error field. When present the
// failure is logical, not transport, and the remote text is what the user
// should see.
func (c *Client) statusError(status int, raw []byte) error {
	var payload domain.AnalysisResponse
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return &RemoteError{Message: payload.Error}
	}
	return &HTTPStatusError{StatusCode: status, URL: c.endpoint, Body: string(raw)}
}

// RemoteError is a logical failure reported by the endpoint on a non-2xx
// status. Its message is user-facing.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "analysis: remote error: " + e.Message
}

// DisplayText returns the user-facing error text for a remote failure,
// falling back to a generic notice when the remote message is empty.
func (e *RemoteError) DisplayText() string {
	if e.Message == "" {
		return genericRemoteError
	}
	return e.Message
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = paramstore.Token(ctx, c.getter, c.keyParam)
	})
	if c.keyErr != nil {
		return "", fmt.Errorf("analysis: resolve API key: %w", c.keyErr)
	}
	return c.apiKey, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func jsonBody(req Request) (*bytes.Buffer, string, error) {
	raw, err := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: req.Message})
	if err != nil {
		return nil, "", fmt.Errorf("analysis: marshal request: %w", err)
	}
	return bytes.NewBuffer(raw), "application/json", nil
}

func multipartBody(req Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.File.Name))
	header.Set("Content-Type", req.File.ContentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("analysis: create file part: %w", err)
	}
	if _, err := part.Write(req.File.Data); err != nil {
		return nil, "", fmt.Errorf("analysis: write file part: %w", err)
	}

	if req.Message != "" {
		if err := w.WriteField("message", req.Message); err != nil {
			return nil, "", fmt.Errorf("analysis: write message field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("analysis: close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
