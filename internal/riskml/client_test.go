package riskml

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fraudwatch/internal/scoring"
)

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestPredictProbability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Features.PaymentCount != 3 {
			t.Fatalf("unexpected features %+v", req.Features)
		}
		json.NewEncoder(w).Encode(map[string]float64{"probability": 0.87})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if !client.Enabled() {
		t.Fatal("expected client enabled")
	}

	prob, err := client.PredictProbability(context.Background(), scoring.Features{PaymentCount: 3})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if prob != 0.87 {
		t.Fatalf("expected 0.87 got %v", prob)
	}
}

func TestPredictProbabilityErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"missing probability", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			client, err := NewClient(Config{BaseURL: server.URL})
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			if _, err := client.PredictProbability(context.Background(), scoring.Features{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNilClientDisabled(t *testing.T) {
	var client *Client
	if client.Enabled() {
		t.Fatal("nil client must be disabled")
	}
	if _, err := client.PredictProbability(context.Background(), scoring.Features{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}
