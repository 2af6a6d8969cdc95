package clash

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func classifyServer(t *testing.T, calls *atomic.Int64, response any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(response)
	}))
}

func TestResolveMessageTextWinsOverClassifier(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := classifyServer(t, &calls, map[string]any{classificationField: "Chimera"})
	defer srv.Close()

	classifier := NewClassifier(nil, NewExtractionClient(nil, srv.URL, srv.Client()))
	got := classifier.Resolve(context.Background(), "Hydra results from tonight", NewStaticAsset("s.png", OriginAttachment, []byte("img")))

	if got != TypeHydra {
		t.Fatalf("expected hydra, got %s", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("classifier must not be called when text is explicit, got %d calls", calls.Load())
	}
}

func TestResolveHydraWinsWhenBothMentioned(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier(nil, nil)
	if got := classifier.Resolve(context.Background(), "chimera or hydra?", nil); got != TypeHydra {
		t.Fatalf("expected hydra, got %s", got)
	}
}

func TestResolveClassifierResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response any
		want     ClashType
	}{
		{name: "object", response: map[string]any{classificationField: "Chimera"}, want: TypeChimera},
		{name: "list of objects", response: []any{map[string]any{classificationField: "Hydra"}}, want: TypeHydra},
		{name: "bare string", response: "hydra", want: TypeHydra},
		{name: "unrecognized", response: map[string]any{classificationField: "Siege"}, want: TypeUnknown},
		{name: "empty list", response: []any{}, want: TypeUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int64
			srv := classifyServer(t, &calls, tt.response)
			defer srv.Close()

			classifier := NewClassifier(nil, NewExtractionClient(nil, srv.URL, srv.Client()))
			got := classifier.Resolve(context.Background(), "", NewStaticAsset("s.png", OriginAttachment, []byte("img")))
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if calls.Load() != 1 {
				t.Fatalf("expected one classify call, got %d", calls.Load())
			}
		})
	}
}

func TestResolveClassifierFailureIsUnknown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	classifier := NewClassifier(nil, NewExtractionClient(nil, srv.URL, srv.Client()))
	got := classifier.Resolve(context.Background(), "", NewStaticAsset("s.png", OriginAttachment, []byte("img")))
	if got != TypeUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestResolveWithoutImageIsUnknown(t *testing.T) {
	t.Parallel()

	classifier := NewClassifier(nil, nil)
	if got := classifier.Resolve(context.Background(), "last night's scores", nil); got != TypeUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}
