package railclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const railErrorBody = `{"errors":[{"title":"Service Unavailable","detail":"upstream processor timeout","status":"503"}]}`

func TestConfirmIntent_ServerErrorIsUnknownOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(railErrorBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.ConfirmIntent(context.Background(), "int_1", "proof")
	if err == nil {
		t.Fatal("expected an error from a 503 response")
	}
	var railErr *ErrorResponse
	if errors.As(err, &railErr) {
		t.Fatalf("a 5xx must not be surfaced as a rail decision, got %v", railErr)
	}
}

func TestConfirmIntent_ClientErrorIsDefiniteDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"errors":[{"title":"declined","detail":"insufficient funds","status":"402"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.ConfirmIntent(context.Background(), "int_1", "proof")
	var railErr *ErrorResponse
	if !errors.As(err, &railErr) {
		t.Fatalf("expected an *ErrorResponse from a 4xx with an error body, got %v", err)
	}
	if railErr.Detail() != "insufficient funds" {
		t.Fatalf("expected the rail's detail, got %q", railErr.Detail())
	}
}

func TestCreateIntent_SendsAPIKeyAndDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-rail-key"); got != "test-key" {
			t.Errorf("expected the api key header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"int_9","type":"PaymentIntent","attributes":{"status":"pending","approvalUrl":"https://rail.example/approve/int_9"}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	resp, err := client.CreateIntent(context.Background(), 25000, "USD", "card", "ref-1", "")
	if err != nil {
		t.Fatalf("expected intent creation to succeed, got %v", err)
	}
	if resp.Data.ID != "int_9" {
		t.Fatalf("expected intent id int_9, got %q", resp.Data.ID)
	}
	if resp.Data.Attributes.ApprovalURL == "" {
		t.Fatal("expected the approval url to be decoded")
	}
}
