package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/malascope/malascope-backend/internal/logger"
	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
	"github.com/malascope/malascope-backend/internal/pkg/httpx"
	"github.com/malascope/malascope-backend/internal/types"
)

// Detection is one localized finding returned by the detection
// service.
type Detection struct {
	ClassName  string  `json:"class_name"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Report is the detection service's verdict for a whole image.
type Report struct {
	ParasiteDetected bool        `json:"parasite_detected"`
	Species          string      `json:"species"`
	Confidence       float64     `json:"confidence"`
	ParasiteDensity  float64     `json:"parasite_density"`
	ModelVersion     string      `json:"model_version"`
	ExternalRef      string      `json:"external_ref"`
	Detections       []Detection `json:"detections"`
}

// Client talks to the external object-detection service that runs the
// heavyweight species and life-stage model.
type Client interface {
	Detect(ctx context.Context, imageData []byte, filename string, kind types.SmearKind, initial *types.InitialAnalysis) (*Report, error)
}

type httpClient struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries int
	log        *logger.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int, baseLog *logger.Logger) (Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("missing detector service URL")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &httpClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		log:        baseLog.With("service", "DetectorClient"),
	}, nil
}

type detectorHTTPError struct {
	StatusCode int
	Body       string
}

func (e *detectorHTTPError) Error() string {
	return fmt.Sprintf("detector service status %d: %s", e.StatusCode, e.Body)
}

func (e *detectorHTTPError) HTTPStatusCode() int { return e.StatusCode }

// initialResultPayload is the screening context forwarded with the
// image so the detection service can calibrate against it.
type initialResultPayload struct {
	IsPositive      bool    `json:"is_positive"`
	Confidence      float64 `json:"confidence"`
	PositivePatches int     `json:"positive_patches"`
	PatchesAnalyzed int     `json:"patches_analyzed"`
	ModelVersion    string  `json:"model_version"`
}

func (c *httpClient) Detect(ctx context.Context, imageData []byte, filename string, kind types.SmearKind, initial *types.InitialAnalysis) (*Report, error) {
	body, contentType, err := buildForm(imageData, filename, kind, initial)
	if err != nil {
		return nil, err
	}

	backoff := 2 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, body, contentType)
		if err == nil {
			var report Report
			if uErr := json.Unmarshal(raw, &report); uErr != nil {
				return nil, fmt.Errorf("detector decode error: %w; raw=%s", uErr, string(raw))
			}
			return &report, nil
		}

		if !httpx.IsRetryableError(err) {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrExternalService, err)
		}
		if attempt == c.maxRetries {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrExternalService, err)
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 30*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Detector request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return nil, pkgerrors.ErrExternalService
}

func buildForm(imageData []byte, filename string, kind types.SmearKind, initial *types.InitialAnalysis) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, "", err
	}

	if err := w.WriteField("image_type", string(kind)); err != nil {
		return nil, "", err
	}

	payload, err := json.Marshal(initialResultPayload{
		IsPositive:      initial.IsPositive,
		Confidence:      initial.Confidence,
		PositivePatches: initial.PositivePatches,
		PatchesAnalyzed: initial.PatchesAnalyzed,
		ModelVersion:    initial.ModelVersion,
	})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("initial_result", string(payload)); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *httpClient) doOnce(ctx context.Context, body []byte, contentType string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &detectorHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
