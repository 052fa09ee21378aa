// Package client talks to the ingest service HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adamwolfe2/leadme-sub019/common/signature"
)

// Default header names used by the ingest service.
const (
	SecretHeader    = "X-Webhook-Secret"
	SignatureHeader = "X-Webhook-Signature"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

type WebhookResponse struct {
	Success   bool `json:"success"`
	Stored    int  `json:"stored"`
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
	Failed    int  `json:"failed"`
	Duplicate bool `json:"duplicate,omitempty"`
	Errors    []struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	} `json:"errors,omitempty"`
}

type ImportRequest struct {
	FileURL     string `json:"fileUrl"`
	AudienceID  string `json:"audienceId,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type ImportResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	TotalRows  int    `json:"total_rows"`
	Stored     int    `json:"stored"`
	FailedRows int    `json:"failed_rows"`
	Duplicate  bool   `json:"duplicate"`
}

type ImportJob struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	FileURL       string     `json:"file_url"`
	TotalRows     int        `json:"total_rows"`
	ProcessedRows int        `json:"processed_rows"`
	FailedRows    int        `json:"failed_rows"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// WebhookAuth selects how a webhook delivery is authenticated.
type WebhookAuth struct {
	Secret string
	// Sign sends an HMAC signature instead of the raw shared secret.
	Sign bool
}

type IngestClient struct {
	baseURL string
	client  *http.Client
}

func NewIngestClient(baseURL string) *IngestClient {
	return &IngestClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// SendWebhook posts body to /webhooks/{source}.
func (c *IngestClient) SendWebhook(source string, body []byte, auth WebhookAuth) (*WebhookResponse, error) {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/webhooks/"+source, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth.Sign {
		req.Header.Set(SignatureHeader, signature.Sign(auth.Secret, body))
	} else {
		req.Header.Set(SecretHeader, auth.Secret)
	}

	var out WebhookResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateImport starts an import job and waits for it to finish.
func (c *IngestClient) CreateImport(token string, in ImportRequest) (*ImportResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/imports", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var out ImportResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *IngestClient) ImportStatus(token, id string) (*ImportJob, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/v1/imports/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var out ImportJob
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *IngestClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Error
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
