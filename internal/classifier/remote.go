package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/malascope/malascope-backend/internal/logger"
	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/pkg/httpx"
	"github.com/malascope/malascope-backend/internal/types"
)

// RemoteClassifier calls an external inference service that hosts the
// trained screening CNN. The service takes the raw encoded patch and
// returns an infection probability.
type RemoteClassifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	log        *logger.Logger
}

func NewRemoteClassifier(baseURL, apiKey string, timeout time.Duration, maxRetries int, baseLog *logger.Logger) (*RemoteClassifier, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("missing classifier service URL")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RemoteClassifier{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		log:        baseLog.With("service", "RemoteClassifier"),
	}, nil
}

type classifierHTTPError struct {
	StatusCode int
	Body       string
}

func (e *classifierHTTPError) Error() string {
	return fmt.Sprintf("classifier service status %d: %s", e.StatusCode, e.Body)
}

func (e *classifierHTTPError) HTTPStatusCode() int { return e.StatusCode }

type classifyResponse struct {
	Probability  float64 `json:"probability"`
	ModelVersion string  `json:"model_version"`
}

func (c *RemoteClassifier) Classify(ctx context.Context, patch []byte, kind types.SmearKind) (Result, error) {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, patch, kind)
		if err == nil {
			var parsed classifyResponse
			if uErr := json.Unmarshal(raw, &parsed); uErr != nil {
				return Result{}, fmt.Errorf("classifier decode error: %w; raw=%s", uErr, string(raw))
			}
			return Result{
				Probability: parsed.Probability,
				Infected:    parsed.Probability >= PositiveThreshold,
			}, nil
		}

		if !httpx.IsRetryableError(err) {
			return Result{}, fmt.Errorf("%w: %v", pkgerrors.ErrClassifierUnavailable, err)
		}
		if attempt == c.maxRetries {
			return Result{}, fmt.Errorf("%w: %v", pkgerrors.ErrClassifierUnavailable, err)
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Classifier request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return Result{}, pkgerrors.ErrClassifierUnavailable
}

func (c *RemoteClassifier) doOnce(ctx context.Context, patch []byte, kind types.SmearKind) (*http.Response, []byte, error) {
	url := fmt.Sprintf("%s/classify?kind=%s", c.baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(patch))
	if err != nil {
		return nil, nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &classifierHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *RemoteClassifier) Version(kind types.SmearKind) string {
	return fmt.Sprintf("MalariaScreen-%s-remote", kind)
}
