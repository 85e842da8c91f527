package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/smartattend-api/pkg/config"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

// MatchRequest asks the provider to compare a captured face with a student's template.
// At least one of StudentID and RollNo identifies the template.
type MatchRequest struct {
	StudentID string `json:"student_id,omitempty"`
	RollNo    string `json:"roll_no,omitempty"`
	Image     string `json:"image"`
}

// MatchResult is the provider's verdict on a 0 to 100 scale.
type MatchResult struct {
	Confidence float64 `json:"confidence"`
}

// FaceMatcher is an external face verification provider.
type FaceMatcher interface {
	Match(ctx context.Context, req MatchRequest) (*MatchResult, error)
}

// New selects the matcher configured by cfg.Mode.
func New(cfg config.BiometricsConfig, client *http.Client, logger *zap.Logger) (FaceMatcher, error) {
	switch cfg.Mode {
	case "", config.BiometricsModeFake:
		return &StaticFaceMatcher{Confidence: cfg.FakeFaceConfidence}, nil
	case config.BiometricsModeRemote:
		return NewRemoteFaceMatcher(cfg.FaceServiceURL, cfg.FaceServiceTimeout, client, logger)
	default:
		return nil, fmt.Errorf("unknown biometrics mode %q", cfg.Mode)
	}
}

// StaticFaceMatcher returns a fixed verdict. It stands in for the provider in
// development and tests.
type StaticFaceMatcher struct {
	Confidence float64
	Err        error
}

// Match implements FaceMatcher.
func (m *StaticFaceMatcher) Match(ctx context.Context, req MatchRequest) (*MatchResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if strings.TrimSpace(req.Image) == "" {
		return nil, appErrors.ErrNoFace
	}
	return &MatchResult{Confidence: m.Confidence}, nil
}

// providerErrors maps provider failure codes onto typed errors.
var providerErrors = map[string]*appErrors.Error{
	"no_face":           appErrors.ErrNoFace,
	"multiple_faces":    appErrors.ErrMultipleFaces,
	"poor_lighting":     appErrors.ErrPoorLighting,
	"face_too_small":    appErrors.ErrFaceTooSmall,
	"extraction_failed": appErrors.ErrExtractionFailed,
}

// RemoteFaceMatcher calls an HTTP face verification service.
//
//	POST {baseURL}/v1/faces/match  {"student_id","roll_no","image"}
//	200 {"confidence": 91.5}
//	422 {"error": "no_face", "message": "..."}
type RemoteFaceMatcher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewRemoteFaceMatcher builds a client for the service at baseURL.
func NewRemoteFaceMatcher(baseURL string, timeout time.Duration, client *http.Client, logger *zap.Logger) (*RemoteFaceMatcher, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("face service url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch {
	case client == nil:
		client = &http.Client{Timeout: timeout}
	case client.Timeout == 0:
		bounded := *client
		bounded.Timeout = timeout
		client = &bounded
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteFaceMatcher{endpoint: baseURL + "/v1/faces/match", client: client, logger: logger}, nil
}

type providerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Match implements FaceMatcher.
func (m *RemoteFaceMatcher) Match(ctx context.Context, req MatchRequest) (*MatchResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode face match request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build face match request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.client.Do(httpReq)
	if err != nil {
		m.logger.Warn("face provider unreachable", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrBiometricProvider.Code, appErrors.ErrBiometricProvider.Status, appErrors.ErrBiometricProvider.Message)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrBiometricProvider.Code, appErrors.ErrBiometricProvider.Status, "failed to read face provider response")
	}
	m.logger.Debug("face provider responded", zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		var perr providerError
		if json.Unmarshal(body, &perr) == nil {
			if typed, ok := providerErrors[strings.ToLower(perr.Error)]; ok {
				return nil, appErrors.Clone(typed, perr.Message)
			}
		}
		return nil, appErrors.Wrap(fmt.Errorf("status %d", resp.StatusCode), appErrors.ErrBiometricProvider.Code, appErrors.ErrBiometricProvider.Status, "face provider rejected the request")
	}

	var result MatchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrBiometricProvider.Code, appErrors.ErrBiometricProvider.Status, "malformed face provider response")
	}
	if result.Confidence < 0 || result.Confidence > 100 {
		return nil, appErrors.Clone(appErrors.ErrBiometricProvider, "face provider returned confidence out of range")
	}
	return &result, nil
}
