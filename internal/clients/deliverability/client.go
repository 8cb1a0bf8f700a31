// Package deliverability talks to the external address verification service.
package deliverability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"letter-wizard/internal/common/config"
	"letter-wizard/internal/common/errors"
	commonhttp "letter-wizard/internal/common/http"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/verify"
	"letter-wizard/internal/wizard/fields"
)

// responseSchema guards against malformed verifier responses before any field
// is trusted.
const responseSchema = `{
	"type": "object",
	"properties": {
		"deliverability": {"type": "string", "minLength": 1},
		"valid_address": {"type": "boolean"},
		"components": {
			"type": "object",
			"properties": {
				"primary_line": {"type": "string"},
				"secondary_line": {"type": "string"},
				"urbanization": {"type": "string"},
				"city": {"type": "string"},
				"state": {"type": "string"},
				"zip_code": {"type": "string"}
			},
			"required": ["primary_line", "city", "state", "zip_code"]
		}
	},
	"required": ["deliverability", "valid_address"]
}`

type verifyRequest struct {
	PrimaryLine   string `json:"primary_line"`
	SecondaryLine string `json:"secondary_line,omitempty"`
	Urbanization  string `json:"urbanization,omitempty"`
	City          string `json:"city"`
	State         string `json:"state"`
	ZipCode       string `json:"zip_code"`
}

type verifyResponse struct {
	Deliverability string `json:"deliverability"`
	ValidAddress   bool   `json:"valid_address"`
	Components     struct {
		PrimaryLine   string `json:"primary_line"`
		SecondaryLine string `json:"secondary_line"`
		Urbanization  string `json:"urbanization"`
		City          string `json:"city"`
		State         string `json:"state"`
		ZipCode       string `json:"zip_code"`
	} `json:"components"`
}

// Client implements verify.Client against the HTTP verifier.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *commonhttp.Client
	schema     *gojsonschema.Schema
	logger     logger.Logger
}

func New(cfg *config.Config, log logger.Logger) (*Client, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("compile deliverability response schema: %w", err)
	}
	timeout := time.Duration(cfg.Services.Deliverability.Timeout) * time.Millisecond
	return &Client{
		baseURL:    strings.TrimRight(cfg.Services.Deliverability.BaseURL, "/"),
		apiKey:     cfg.Services.Deliverability.APIKey,
		httpClient: commonhttp.NewClient(timeout),
		schema:     compiled,
		logger:     log,
	}, nil
}

// Verify checks one address and returns the verifier's judgement plus its
// corrected candidate.
func (c *Client) Verify(ctx context.Context, addr fields.MailingAddress) (*verify.Verification, error) {
	body, err := json.Marshal(verifyRequest{
		PrimaryLine:   addr.PrimaryLine,
		SecondaryLine: addr.SecondaryLine,
		Urbanization:  addr.Urbanization,
		City:          addr.City,
		State:         addr.State,
		ZipCode:       addr.Zip,
	})
	if err != nil {
		return nil, errors.NewVerificationFailedError(err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/us_verifications", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewVerificationFailedError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, "")
	}

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewVerificationTimeoutError()
		}
		return nil, errors.NewVerificationFailedError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewVerificationFailedError(err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Verifier returned non-OK status", map[string]interface{}{
			"status": resp.StatusCode,
		})
		return nil, errors.NewVerificationFailedError(
			fmt.Errorf("verifier returned status %d", resp.StatusCode))
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.NewVerificationBadResponseError(err.Error())
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, errors.NewVerificationBadResponseError(strings.Join(details, "; "))
	}

	var parsed verifyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.NewVerificationBadResponseError(err.Error())
	}

	return &verify.Verification{
		Deliverability: parsed.Deliverability,
		ValidAddress:   parsed.ValidAddress,
		Candidate: fields.MailingAddress{
			PrimaryLine:   parsed.Components.PrimaryLine,
			SecondaryLine: parsed.Components.SecondaryLine,
			Urbanization:  parsed.Components.Urbanization,
			City:          parsed.Components.City,
			State:         parsed.Components.State,
			Zip:           parsed.Components.ZipCode,
		},
	}, nil
}
