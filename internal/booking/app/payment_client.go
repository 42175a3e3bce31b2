/**
 * @description
 * HTTP client for the payment-service's internal refund endpoint. Used when a
 * traveler cancels a paid booking inside the cancellation window.
 */
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentClient talks to the payment-service over its internal API.
type PaymentClient struct {
	baseURL        string
	internalAPIKey string
	httpClient     *http.Client
}

// NewPaymentClient creates a client for the payment-service at baseURL,
// authenticating with the shared internal API key.
func NewPaymentClient(baseURL, internalAPIKey string) *PaymentClient {
	return &PaymentClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		internalAPIKey: internalAPIKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

// RequestRefund asks the payment-service to refund the payment in full. The
// payment-service treats an already-refunded payment as a no-op, so retrying
// this call is safe.
func (c *PaymentClient) RequestRefund(ctx context.Context, paymentID uuid.UUID) error {
	url := fmt.Sprintf("%s/payments/internal/%s/refund", c.baseURL, paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create refund request: %w", err)
	}
	req.Header.Set("X-Internal-Api-Key", c.internalAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refund request failed: %w", err)
	}
	defer resp.Body.Close()

	// 202 (rail outcome still unknown) counts as accepted; the refund fact
	// arrives once the payment-service settles it.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("payment-service refund returned status %d: %s", resp.StatusCode, string(body))
}

// ReportBooking tells the payment-service which booking a completed payment
// materialized, so refund facts for that payment carry the booking id.
// Setting the same booking twice is a no-op, so retrying is safe.
func (c *PaymentClient) ReportBooking(ctx context.Context, paymentID, bookingID uuid.UUID) error {
	url := fmt.Sprintf("%s/payments/internal/%s/booking", c.baseURL, paymentID)
	payload, err := json.Marshal(map[string]string{"booking_id": bookingID.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal booking report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create booking report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Api-Key", c.internalAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("booking report request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("payment-service booking report returned status %d: %s", resp.StatusCode, string(body))
}
