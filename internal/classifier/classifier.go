// Package classifier calls the remote prediction endpoint over HTTP and maps
// its failures into a closed error taxonomy.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Static header required to bypass the tunnel intermediary's warning page.
// Opaque to the protocol, always sent.
const (
	tunnelBypassHeader = "ngrok-skip-browser-warning"
	tunnelBypassValue  = "true"
)

// Prediction is the decoded endpoint response.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Kind enumerates the transport and payload failures surfaced to the caller.
type Kind int

const (
	// KindUnreachable means no connection could be established.
	KindUnreachable Kind = iota + 1
	// KindNotFound means the prediction endpoint is missing (404).
	KindNotFound
	// KindServer means a remote-side failure (5xx).
	KindServer
	// KindClient means any other non-2xx status.
	KindClient
	// KindInvalidResponse means a 2xx response with a missing label or confidence.
	KindInvalidResponse
)

// Error is the typed failure returned by Classify. Status is zero for
// connection-level failures.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnreachable:
		return fmt.Sprintf("prediction endpoint unreachable: %v", e.Err)
	case KindNotFound:
		return "prediction endpoint not found"
	case KindServer:
		return fmt.Sprintf("prediction endpoint server error (status %d)", e.Status)
	case KindInvalidResponse:
		if e.Err != nil {
			return fmt.Sprintf("invalid prediction response: %v", e.Err)
		}
		return "invalid prediction response"
	default:
		return fmt.Sprintf("prediction request failed (status %d)", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Client submits normalized images to POST {base}/predict as multipart.
// It never retries; retry policy belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Client against the given base URL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("classifier"),
	}
}

// Classify sends the encoded image and returns the predicted label and
// confidence, or a typed *Error.
func (c *Client) Classify(ctx context.Context, name, mimeType string, data []byte) (*Prediction, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(tunnelBypassHeader, tunnelBypassValue)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("prediction request failed", zap.Error(err))
		return nil, &Error{Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		kind := KindClient
		switch {
		case resp.StatusCode == http.StatusNotFound:
			kind = KindNotFound
		case resp.StatusCode >= 500:
			kind = KindServer
		}
		c.logger.Warn("prediction endpoint returned error status",
			zap.Int("status", resp.StatusCode))
		return nil, &Error{Kind: kind, Status: resp.StatusCode}
	}

	// Confidence decodes through a pointer so a missing field is
	// distinguishable from a literal zero.
	var payload struct {
		Label      string   `json:"label"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Status: resp.StatusCode, Err: err}
	}
	if payload.Label == "" || payload.Confidence == nil {
		return nil, &Error{Kind: KindInvalidResponse, Status: resp.StatusCode,
			Err: fmt.Errorf("missing label or confidence")}
	}

	return &Prediction{Label: payload.Label, Confidence: *payload.Confidence}, nil
}
