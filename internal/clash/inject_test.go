package clash

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInjectRefusesUnknownType(t *testing.T) {
	t.Parallel()

	client := NewInjectionClient(nil, "http://site", "http://site/api", nil)
	resp := client.Inject(context.Background(), InjectionPayload{}, TypeUnknown)
	if resp.OK {
		t.Fatal("expected refusal")
	}
	if resp.Err != ErrUnknownType.Error() {
		t.Fatalf("unexpected error %q", resp.Err)
	}
}

func TestInjectPostsPayload(t *testing.T) {
	t.Parallel()

	var (
		gotPath string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"hydra_clash_id": 42, "message": "created"}`))
	}))
	defer srv.Close()

	client := NewInjectionClient(nil, "http://site", srv.URL, srv.Client())
	payload := InjectionPayload{OpponentScores: map[string]any{"player": "a"}, DateRecorded: "2026-08-01T00:00:00Z", Clan: "phoenix"}
	resp := client.Inject(context.Background(), payload, TypeHydra)

	if !resp.OK {
		t.Fatalf("unexpected failure: %s", resp.Err)
	}
	if gotPath != "/injest-hydra/" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["clan"] != "phoenix" || gotBody["date_recorded"] != "2026-08-01T00:00:00Z" {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if resp.ClashID != "42" {
		t.Fatalf("unexpected clash id %q", resp.ClashID)
	}
	if resp.Message != "created" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
}

func TestInjectStringID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chimera_clash_id": "abc-1"}`))
	}))
	defer srv.Close()

	resp := NewInjectionClient(nil, "http://site", srv.URL, srv.Client()).
		Inject(context.Background(), InjectionPayload{}, TypeChimera)
	if !resp.OK || resp.ClashID != "abc-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInjectHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	resp := NewInjectionClient(nil, "http://site", srv.URL, srv.Client()).
		Inject(context.Background(), InjectionPayload{}, TypeHydra)
	if resp.OK {
		t.Fatal("expected failure")
	}
	if resp.Status != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", resp.Status)
	}
}

func TestInjectNonJSONBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("stored"))
	}))
	defer srv.Close()

	resp := NewInjectionClient(nil, "http://site", srv.URL, srv.Client()).
		Inject(context.Background(), InjectionPayload{}, TypeHydra)
	if !resp.OK || resp.Message != "stored" || resp.ClashID != "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestViewURL(t *testing.T) {
	t.Parallel()

	client := NewInjectionClient(nil, "http://site/", "http://site/api", nil)
	if got := client.ViewURL(TypeHydra, "42"); got != "http://site/hydra/42/edit/" {
		t.Fatalf("unexpected view url %q", got)
	}
	if got := client.ViewURL(TypeHydra, ""); got != "" {
		t.Fatalf("expected empty view url, got %q", got)
	}
}
