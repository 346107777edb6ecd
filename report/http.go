package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// userAgent sent with every report
const userAgent = "PeopleCounterAPI/1.0"

// HTTPSink posts reports as JSON to a URL
type HTTPSink struct {
	URL    string
	client *http.Client
}

// NewHTTPSink returns a sink posting to url.  A nil client uses
// http.DefaultClient
func NewHTTPSink(url string, client *http.Client) *HTTPSink {

	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPSink{
		URL:    url,
		client: client,
	}
}

// Name returns the sink name
func (s *HTTPSink) Name() string {
	return "http"
}

// Send posts the payload, any non 2xx response is an error
func (s *HTTPSink) Send(ctx context.Context, p Payload) error {

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("http error %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	return nil
}
