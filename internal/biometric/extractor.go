package biometric

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
)

// Extractor turns an image sample into a face embedding. Implementations
// return errors.ErrNoFaceDetected or errors.ErrMultipleFacesDetected when the
// sample does not contain exactly one face.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

const (
	defaultExtractorURL  = "http://localhost:8500/v1/embed"
	extractorMaxRetries  = 3
	extractorInitialWait = 500 * time.Millisecond
)

// HTTPExtractor calls an embedding service that detects faces in an image
// and returns one embedding per detected face.
type HTTPExtractor struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	initialWait time.Duration
}

type HTTPExtractorOption func(*HTTPExtractor)

func WithExtractorURL(url string) HTTPExtractorOption {
	return func(e *HTTPExtractor) { e.baseURL = url }
}

func WithHTTPClient(client *http.Client) HTTPExtractorOption {
	return func(e *HTTPExtractor) { e.client = client }
}

// WithRetries sets how many times a 5xx or transport failure is retried and
// the first backoff delay, which doubles per attempt.
func WithRetries(n int, initialWait time.Duration) HTTPExtractorOption {
	return func(e *HTTPExtractor) {
		e.maxRetries = n
		e.initialWait = initialWait
	}
}

func NewHTTPExtractor(opts ...HTTPExtractorOption) *HTTPExtractor {
	e := &HTTPExtractor{
		baseURL:     defaultExtractorURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		maxRetries:  extractorMaxRetries,
		initialWait: extractorInitialWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type extractRequest struct {
	Image string `json:"image"`
}

type extractResponse struct {
	Faces [][]float32 `json:"faces"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	body, err := json.Marshal(extractRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * e.initialWait
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("embedding request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("embedding service error (%d): %s", resp.StatusCode, string(respBody))
			if resp.StatusCode >= 500 {
				continue
			}
			return nil, lastErr
		}

		var out extractResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		switch len(out.Faces) {
		case 0:
			return nil, errors.ErrNoFaceDetected
		case 1:
			if len(out.Faces[0]) == 0 {
				return nil, fmt.Errorf("empty embedding returned")
			}
			return out.Faces[0], nil
		default:
			return nil, errors.ErrMultipleFacesDetected
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", e.maxRetries, lastErr)
}
