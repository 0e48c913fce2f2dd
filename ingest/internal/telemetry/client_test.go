package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"shrc-fleet-telemetry/shared/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Config{
		UpstreamBaseURL:       server.URL,
		UpstreamAPIKey:        "secret-key",
		UpstreamListTimeout:   5,
		UpstreamDetailTimeout: 5,
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestListMessagesRequestShape(t *testing.T) {
	var gotPath, gotFrom, gotTo, gotKey string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFrom = r.URL.Query().Get("from")
		gotTo = r.URL.Query().Get("to")
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"msgId":24,"msgName":"GPS_RAW_INT"},{"msgId":147,"msgName":"BATTERY_STATUS"}]`))
	})

	envelopes, err := client.ListMessages(context.Background(), "01fb056f-a3fb-4c38-9f97-ff11b9dea241", "20260101000000", "20260101235959")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if gotPath != "/ext/robots/01fb056f-a3fb-4c38-9f97-ff11b9dea241/telemetries" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotFrom != "20260101000000" || gotTo != "20260101235959" {
		t.Fatalf("unexpected range params: from=%s to=%s", gotFrom, gotTo)
	}
	if gotKey != "secret-key" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if len(envelopes) != 2 || envelopes[0].MsgID != 24 || envelopes[1].MsgName != "BATTERY_STATUS" {
		t.Fatalf("unexpected envelopes: %+v", envelopes)
	}
}

func TestRedirectMeansBlocked(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})

	_, err := client.ListMessages(context.Background(), "r1", "20260101000000", "20260101235959")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestNon2xxBecomesUpstreamError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchDetail(context.Background(), "r1", 24, "20260101000000", "20260101235959")
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstreamErr.Status != http.StatusInternalServerError || upstreamErr.Endpoint != "detail" {
		t.Fatalf("unexpected UpstreamError: %+v", upstreamErr)
	}
}

func TestFetchDetailAcceptsSingleObject(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ext/robots/r1/telemetries/147" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"time":"2026-01-02T03:04:05Z","voltages[0]":11.9}`))
	})

	payloads, err := client.FetchDetail(context.Background(), "r1", 147, "20260101000000", "20260101235959")
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected a one-element slice, got %d", len(payloads))
	}
	if payloads[0]["voltages[0]"] != 11.9 {
		t.Fatalf("unexpected payload: %v", payloads[0])
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(config.Config{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
