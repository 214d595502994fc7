package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RemoteClassifier delegates to another guardrail service speaking the
// /api/guardrail contract
type RemoteClassifier struct {
	endpoint string
	client   *http.Client
}

// NewRemoteClassifier creates a client for the service at endpoint
func NewRemoteClassifier(endpoint string) *RemoteClassifier {
	return &RemoteClassifier{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (r *RemoteClassifier) Name() string { return "remote" }

type remoteRequest struct {
	Message string `json:"message"`
}

type remoteResponse struct {
	Allowed             bool           `json:"allowed"`
	OverallRisk         RiskLevel      `json:"overallRisk"`
	ThreatsDetected     []string       `json:"threatsDetected"`
	MaxThreatConfidence float64        `json:"maxThreatConfidence"`
	Details             map[string]any `json:"details"`
}

// Classify posts text to the remote service
func (r *RemoteClassifier) Classify(ctx context.Context, text string) (*Verdict, error) {
	reqBytes, _ := json.Marshal(remoteRequest{Message: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/api/guardrail", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: remote request failed: %v", ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: remote returned status %d", ErrClassifierUnavailable, resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrClassifierUnavailable, err)
	}

	v := &Verdict{
		Blocked:    !out.Allowed,
		RiskLevel:  out.OverallRisk,
		Categories: out.ThreatsDetected,
		Confidence: clamp(out.MaxThreatConfidence),
		Details:    out.Details,
	}
	if v.RiskLevel == "" {
		v.RiskLevel = RiskFromConfidence(v.Confidence)
	}
	if v.Categories == nil {
		v.Categories = []string{}
	}
	if v.Blocked {
		v.Explanation = "blocked by remote classifier"
	}
	return v, nil
}

// Health checks if the remote service is reachable
func (r *RemoteClassifier) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
