package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/logging"
)

// Input is the request body sent to the text analysis service.
type Input struct {
	Content              string   `json:"content"`
	VocabularyContexts   []string `json:"vocabularyContexts"`
	VocabularyRepository string   `json:"vocabularyRepository,omitempty"`
	Language             string   `json:"language,omitempty"`
}

// Client calls the text analysis service. The returned body is the
// annotated markup; the caller closes it.
type Client interface {
	Analyze(ctx context.Context, in Input) (io.ReadCloser, error)
}

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	URL               string        `yaml:"url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// DefaultClientConfig returns the default client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           2 * time.Minute,
		RequestsPerSecond: 2,
		Burst:             2,
	}
}

// HTTPClient posts analysis input as JSON and accepts XML markup back.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logging.Logger
}

// maxErrorBody bounds how much of an error response is quoted.
const maxErrorBody = 512

// NewHTTPClient creates a client for cfg.URL. A non-positive
// RequestsPerSecond disables rate limiting.
func NewHTTPClient(cfg ClientConfig, logger logging.Logger) (*HTTPClient, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: text_analysis.url is required", tmerrors.ErrValidation)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HTTPClient{
		url:        url,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		logger:     logger.With(logging.Component("text_analysis_client")),
	}, nil
}

// Analyze sends in to the service. Non-2xx responses and empty bodies are
// reported as ErrIntegration.
func (c *HTTPClient) Analyze(ctx context.Context, in Input) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limit: %w", err)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshaling analysis input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/xml")

	c.logger.WithContext(ctx).Debug("invoking text analysis",
		logging.F("url", c.url),
		logging.F("vocabularies", strings.Join(in.VocabularyContexts, ",")),
		logging.F("content_bytes", len(in.Content)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: calling text analysis service: %w", tmerrors.ErrIntegration, err)
		}
		return nil, fmt.Errorf("%w: calling text analysis service: %v", tmerrors.ErrIntegration, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	br := bufio.NewReader(resp.Body)
	if _, err := br.Peek(1); err != nil {
		resp.Body.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: text analysis service returned empty response", tmerrors.ErrIntegration)
		}
		return nil, fmt.Errorf("%w: reading text analysis result: %v", tmerrors.ErrIntegration, err)
	}
	return &body{Reader: br, Closer: resp.Body}, nil
}

type body struct {
	io.Reader
	io.Closer
}

// StatusError is returned for non-2xx responses. It matches ErrIntegration.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("text analysis service returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	return target == tmerrors.ErrIntegration
}
