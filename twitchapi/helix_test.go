package twitchapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tigermouthbear/ttvattendance/testutil"
	"github.com/Tigermouthbear/ttvattendance/twitchapi"
)

func newTestHelix(t *testing.T, mock *testutil.MockTwitchServer) *twitchapi.HelixClient {
	t.Helper()
	mock.MockOAuthTokenResponse("app-token", 3600)
	tokens := &twitchapi.TokenSource{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     mock.URL + "/oauth2/token",
		HTTPClient:   mock.Client(),
		Clock:        clockwork.NewFakeClockAt(time.Now()),
	}
	return &twitchapi.HelixClient{
		AppTokenSource: tokens,
		ClientID:       "client-id",
		HTTPClient:     mock.Client(),
		BaseURL:        mock.URL,
	}
}

func TestGetStreamsLive(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockStreamsResponse([]map[string]interface{}{
		{"id": "123", "title": "a title", "started_at": "2026-08-29T10:00:00Z"},
	})
	hc := newTestHelix(t, mock)

	streams, err := hc.GetStreams(context.Background(), "somechannel")
	if err != nil {
		t.Fatalf("GetStreams: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(streams))
	}
	if streams[0].ID != "123" || streams[0].Title != "a title" {
		t.Errorf("unexpected stream: %+v", streams[0])
	}
}

func TestGetStreamsOffline(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockStreamsResponse(nil)
	hc := newTestHelix(t, mock)

	streams, err := hc.GetStreams(context.Background(), "somechannel")
	if err != nil {
		t.Fatalf("GetStreams: %v", err)
	}
	if len(streams) != 0 {
		t.Errorf("got %d streams, want 0", len(streams))
	}
}

func TestGetStreamsSendsAuthHeaders(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	var gotClientID, gotAuth string
	mock.Handlers["/streams"] = func(w http.ResponseWriter, r *http.Request) {
		gotClientID = r.Header.Get("Client-Id")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}
	hc := newTestHelix(t, mock)

	if _, err := hc.GetStreams(context.Background(), "somechannel"); err != nil {
		t.Fatalf("GetStreams: %v", err)
	}
	if gotClientID != "client-id" {
		t.Errorf("Client-Id header = %q", gotClientID)
	}
	if gotAuth != "Bearer app-token" {
		t.Errorf("Authorization header = %q", gotAuth)
	}
}

func TestGetStreamsErrorStatus(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.Handlers["/streams"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service down", http.StatusBadGateway)
	}
	hc := newTestHelix(t, mock)

	if _, err := hc.GetStreams(context.Background(), "somechannel"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestGetStreamsEmptyLogin(t *testing.T) {
	hc := &twitchapi.HelixClient{}
	if _, err := hc.GetStreams(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty login")
	}
}
