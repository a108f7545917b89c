package http

import (
	"io/ioutil"
	"net/http"
	"strings"
	"testing"

	"github.com/run-ci/pulse/store"
)

func TestMetrics(t *testing.T) {
	st := store.NewMemory()
	st.RegisterRepo(store.RegisteredRepo{Identifier: "acme/web", Pulsefile: validPulsefile})

	srv := NewServer(Config{}, make(chan []byte, 1), st)

	resp := serve(srv, http.MethodPost, "http://test/api/v1/webhook/github", pushPayload("acme/web"), map[string]string{
		"Content-Type":   "application/json",
		"X-GitHub-Event": "push",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v", http.StatusAccepted, resp.StatusCode)
	}

	resp = serve(srv, http.MethodGet, "http://test/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %v, got %v", http.StatusOK, resp.StatusCode)
	}

	body, _ := ioutil.ReadAll(resp.Body)
	want := `pulse_api_webhooks_total{event_type="push",outcome="dispatched"}`
	if !strings.Contains(string(body), want) {
		t.Fatalf("expected metrics to contain %s, got:\n%s", want, body)
	}
}
