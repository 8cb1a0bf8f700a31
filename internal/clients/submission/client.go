// Package submission sends the finished letter to the mailing service.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"letter-wizard/internal/common/config"
	"letter-wizard/internal/common/errors"
	commonhttp "letter-wizard/internal/common/http"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/wizard/fields"
)

// Payload is one submission attempt. IdempotencyKey is stable across retries
// of the same attempt so the mailing service never mails twice.
type Payload struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Locale         string            `json:"locale"`
	Fields         fields.FormFields `json:"fields"`
	HTML           string            `json:"html"`
}

// ChannelResult reports the outcome for one delivery channel.
type ChannelResult struct {
	Attempted      bool   `json:"attempted"`
	Success        bool   `json:"success"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Confirmation is the mailing service's acknowledgement of a letter.
type Confirmation struct {
	LetterID    string        `json:"letter_id"`
	Mail        ChannelResult `json:"mail"`
	Email       ChannelResult `json:"email"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// Client submits letters over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *commonhttp.Client
	logger     logger.Logger
}

func New(cfg *config.Config, log logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Services.Submission.BaseURL, "/"),
		apiKey:     cfg.Services.Submission.APIKey,
		httpClient: commonhttp.NewClient(time.Duration(cfg.Services.Submission.Timeout) * time.Millisecond),
		logger:     log,
	}
}

// Send submits one letter. 4xx answers are rejections and must not be
// retried; everything else network-ish is retryable with the same key.
func (c *Client) Send(ctx context.Context, payload Payload) (*Confirmation, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewSubmissionFailedError(err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/letters", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewSubmissionFailedError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.IdempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &errors.StandardError{
				Code:      errors.ErrCodeSubmissionTimeout,
				Message:   "Letter submission timed out",
				Details:   err.Error(),
				Retryable: true,
				Timestamp: time.Now().UTC(),
			}
		}
		return nil, errors.NewSubmissionFailedError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewSubmissionFailedError(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Warn("Letter submission rejected", map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(raw),
		})
		return nil, errors.NewSubmissionRejectedError(
			fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw)))
	default:
		return nil, errors.NewSubmissionFailedError(
			fmt.Errorf("mailing service returned status %d", resp.StatusCode))
	}

	var confirmation Confirmation
	if err := json.Unmarshal(raw, &confirmation); err != nil {
		return nil, errors.NewSubmissionFailedError(err)
	}
	if confirmation.LetterID == "" {
		return nil, errors.NewSubmissionFailedError(
			fmt.Errorf("mailing service confirmation missing letter id"))
	}
	if confirmation.SubmittedAt.IsZero() {
		confirmation.SubmittedAt = time.Now().UTC()
	}

	c.logger.Info("Letter submitted", map[string]interface{}{
		"letter_id":       confirmation.LetterID,
		"idempotency_key": payload.IdempotencyKey,
	})

	return &confirmation, nil
}
