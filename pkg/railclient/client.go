/**
 * @description
 * This package provides a client for the external payment rail API. It
 * encapsulates authenticated HTTP requests for the four capabilities the
 * platform needs from a processor: create a payment intent, confirm it,
 * refund a capture, and verify inbound webhook signatures.
 *
 * @notes
 * - A 4xx response with a parsable error body is returned as an
 *   *ErrorResponse, which callers treat as a definite rail decision.
 *   Server errors (5xx), transport failures and timeouts surface as
 *   ordinary errors and must be treated as "outcome unknown" - the caller
 *   must not transition payment state on them.
 */
package railclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payment rail API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new rail API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateIntentRequest is the payload for creating a payment intent.
type CreateIntentRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Amount    int64  `json:"amount"` // in minor units
			Currency  string `json:"currency"`
			Method    string `json:"method"`
			Reference string `json:"reference"`
			ReturnURL string `json:"returnUrl,omitempty"`
		} `json:"attributes"`
	} `json:"data"`
}

// ConfirmIntentRequest is the payload for confirming an intent with an
// out-of-band approval proof (payer token, 3DS result, etc.).
type ConfirmIntentRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Proof string `json:"proof"`
		} `json:"attributes"`
	} `json:"data"`
}

// RefundRequest is the payload for refunding a capture, fully or partially.
type RefundRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Amount int64  `json:"amount"`
			Reason string `json:"reason,omitempty"`
		} `json:"attributes"`
	} `json:"data"`
}

// IntentResponse is the rail's representation of a payment intent.
type IntentResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status        string `json:"status"`
			SessionID     string `json:"sessionId"`
			CaptureID     string `json:"captureId"`
			ApprovalURL   string `json:"approvalUrl"`
			Fee           int64  `json:"fee"`
			FailureReason string `json:"failureReason"`
		} `json:"attributes"`
	} `json:"data"`
}

// RefundResponse is the rail's representation of a refund.
type RefundResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status string `json:"status"`
			Amount int64  `json:"amount"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents a definite error decision from the rail API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("rail api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown rail api error"
}

// Detail returns the first human-readable reason the rail gave, if any.
func (e *ErrorResponse) Detail() string {
	if len(e.Errors) == 0 {
		return ""
	}
	if e.Errors[0].Detail != "" {
		return e.Errors[0].Detail
	}
	return e.Errors[0].Title
}

// CreateIntent asks the rail to open a payment intent for the given amount.
// The returned intent carries the external references and, for redirect
// rails, an approval URL the payer must visit.
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, method, reference, returnURL string) (*IntentResponse, error) {
	reqPayload := CreateIntentRequest{}
	reqPayload.Data.Type = "PaymentIntent"
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Attributes.Currency = currency
	reqPayload.Data.Attributes.Method = method
	reqPayload.Data.Attributes.Reference = reference
	reqPayload.Data.Attributes.ReturnURL = returnURL

	var resp IntentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/intents", reqPayload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfirmIntent submits the approval proof for an intent and returns the
// rail's final decision for it.
func (c *Client) ConfirmIntent(ctx context.Context, intentID, proof string) (*IntentResponse, error) {
	reqPayload := ConfirmIntentRequest{}
	reqPayload.Data.Type = "PaymentIntentConfirmation"
	reqPayload.Data.Attributes.Proof = proof

	var resp IntentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/intents/"+intentID+"/confirm", reqPayload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetIntent fetches the current authoritative state of an intent. Used by
// the reconciliation sweep for payments stuck in pending.
func (c *Client) GetIntent(ctx context.Context, intentID string) (*IntentResponse, error) {
	var resp IntentResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/intents/"+intentID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefundCapture refunds part or all of a captured payment.
func (c *Client) RefundCapture(ctx context.Context, captureID string, amount int64, reason string) (*RefundResponse, error) {
	reqPayload := RefundRequest{}
	reqPayload.Data.Type = "Refund"
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Attributes.Reason = reason

	var resp RefundResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/captures/"+captureID+"/refunds", reqPayload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes one authenticated request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal rail request: %w", err)
		}
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create rail request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-rail-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute rail request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rail response: %w", err)
	}

	// A 5xx says nothing about the intent's fate, even when the rail wraps
	// it in an error envelope. Surface it as an ordinary error so callers
	// treat the outcome as unknown instead of as a decline.
	if resp.StatusCode >= 500 {
		log.Printf("level=warn component=rail_client path=%s status=%d msg=\"rail server error; outcome unknown\"", path, resp.StatusCode)
		return fmt.Errorf("rail returned status %d", resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || len(errResp.Errors) == 0 {
			log.Printf("level=warn component=rail_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("rail returned status %d", resp.StatusCode)
		}
		log.Printf("level=warn component=rail_client path=%s status=%d title=%q detail=%q", path, resp.StatusCode, errResp.Errors[0].Title, errResp.Errors[0].Detail)
		return &errResp
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode rail response: %w", err)
	}
	return nil
}
