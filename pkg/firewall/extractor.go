package firewall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Candidate is one span proposed by the extractor oracle. Offsets are hints
// only: the detector re-locates Surface in the normalized text and never
// trusts Start/End blindly.
type Candidate struct {
	Kind       SpanKind `json:"kind"`
	Label      string   `json:"label"`
	Surface    string   `json:"surface"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Confidence float64  `json:"confidence"`
}

// Extractor is the external LLM entity extractor. Implementations receive
// the normalized text and a prompt synthesized from the catalog and return
// candidate spans with confidences.
type Extractor interface {
	Extract(ctx context.Context, text, prompt string) ([]Candidate, error)
}

// sharedTransport provides connection pooling for all extractor HTTP
// clients: TCP connections and TLS handshakes are reused across requests.
var sharedTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

// APIError represents an HTTP API error with status code and response body.
// Use errors.As() to extract the status code for programmatic handling.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// checkResponse returns an APIError if the response status is not 2xx. The
// body read is capped so a misbehaving service cannot exhaust memory.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}

// HTTPExtractor calls an extraction service over HTTP. The request body is
// {"text": ..., "prompt": ...}; the expected response is
// {"candidates": [{kind, label, surface, start, end, confidence}, ...]}.
type HTTPExtractor struct {
	url    string
	client *http.Client
}

// NewHTTPExtractor creates an extractor client for the given endpoint.
// Per-call deadlines come from the caller's context; the client timeout is
// a backstop for requests issued without one.
func NewHTTPExtractor(url string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: sharedTransport,
		},
	}
}

type extractRequest struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt"`
}

type extractResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Extract submits the text and catalog prompt and decodes the candidates.
// Ill-formed responses surface as *ExtractorError with the
// extractor_malformed id; transport failures and deadline expiry surface
// with extractor_timeout.
func (x *HTTPExtractor) Extract(ctx context.Context, text, prompt string) ([]Candidate, error) {
	payload, err := json.Marshal(extractRequest{Text: text, Prompt: prompt})
	if err != nil {
		return nil, &ExtractorError{PolicyID: PolicyIDExtractorMalformed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ExtractorError{PolicyID: PolicyIDExtractorTimeout, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, &ExtractorError{PolicyID: PolicyIDExtractorTimeout, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if err := checkResponse(resp); err != nil {
		return nil, &ExtractorError{PolicyID: PolicyIDExtractorMalformed, Err: err}
	}

	var decoded extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ExtractorError{PolicyID: PolicyIDExtractorMalformed, Err: err}
	}
	return decoded.Candidates, nil
}

// classifyExtractorErr maps an arbitrary extractor failure to the synthetic
// policy id recorded on the fail-closed denial.
func classifyExtractorErr(err error) string {
	var xerr *ExtractorError
	if errors.As(err, &xerr) {
		return xerr.PolicyID
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return PolicyIDExtractorTimeout
	}
	return PolicyIDExtractorTimeout
}

// maxPromptExamples caps the examples listed per label in the oracle prompt.
const maxPromptExamples = 5

// BuildPrompt synthesizes the oracle prompt from the catalog. When an
// ExampleSelector is supplied, each label contributes its examples most
// similar to the request text; otherwise all examples are listed up to the
// cap.
func BuildPrompt(catalog *Catalog, selector *ExampleSelector, text string) string {
	var b strings.Builder

	b.WriteString("Extract sensitive entities and events from the text.\n")
	b.WriteString("Return ONLY a JSON object {\"candidates\": [...]}. Each candidate must have:\n")
	b.WriteString(`- "kind": "SUBJ" for entities, "PRED" for events` + "\n")
	b.WriteString(`- "label": one of the labels below` + "\n")
	b.WriteString(`- "surface": the exact text found` + "\n")
	b.WriteString(`- "start", "end": character offsets (best effort)` + "\n")
	b.WriteString(`- "confidence": float 0.0-1.0` + "\n\n")

	b.WriteString("Entity labels:\n")
	for _, s := range catalog.OracleSubjects() {
		fmt.Fprintf(&b, "- %s: %s\n", s.Label, s.Description)
		for _, ex := range selectExamples(selector, s.Label, s.Examples, text) {
			fmt.Fprintf(&b, "    e.g. %q\n", ex)
		}
	}

	if len(catalog.Predicates) > 0 {
		b.WriteString("\nEvent labels:\n")
		for i := range catalog.Predicates {
			p := &catalog.Predicates[i]
			fmt.Fprintf(&b, "- %s: %s\n", p.Label, p.Definition)
			for _, ex := range selectExamples(selector, p.Label, p.Examples, text) {
				fmt.Fprintf(&b, "    e.g. %q\n", ex)
			}
		}
	}

	return b.String()
}

func selectExamples(selector *ExampleSelector, label string, examples []string, text string) []string {
	if selector != nil {
		if picked := selector.Select(label, text, maxPromptExamples); len(picked) > 0 {
			return picked
		}
	}
	if len(examples) > maxPromptExamples {
		return examples[:maxPromptExamples]
	}
	return examples
}
