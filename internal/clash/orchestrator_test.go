package clash

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/raideye/raideye/internal/channel"
)

type fakeCleaner struct {
	deletes atomic.Int64
}

func (f *fakeCleaner) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.deletes.Add(1)
	return nil
}

type fakeRecorder struct {
	results []BatchResult
}

func (f *fakeRecorder) RecordBatch(result BatchResult) {
	f.results = append(f.results, result)
}

// pipelineFixture wires the orchestrator against httptest servers for
// the score API and the image CDN.
type pipelineFixture struct {
	orch          *Orchestrator
	cleaner       *fakeCleaner
	recorder      *fakeRecorder
	imageURL      string
	classifyCalls *atomic.Int64
	extractCalls  *atomic.Int64
	injectCalls   *atomic.Int64
	injectBodies  *[]map[string]any
}

func newPipelineFixture(t *testing.T, classifyType string) *pipelineFixture {
	t.Helper()

	var classifyCalls, extractCalls, injectCalls atomic.Int64
	injectBodies := &[]map[string]any{}

	mux := http.NewServeMux()
	mux.HandleFunc("/extract/personal_scores/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("prompt_type") == PromptClassify {
			classifyCalls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{classificationField: classifyType})
			return
		}
		extractCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"player": "a", "rotation": 2})
	})
	for _, clashType := range []ClashType{TypeHydra, TypeChimera} {
		clashType := clashType
		mux.HandleFunc("/injest-"+clashType.String()+"/", func(w http.ResponseWriter, r *http.Request) {
			injectCalls.Add(1)
			body, _ := io.ReadAll(r.Body)
			var decoded map[string]any
			_ = json.Unmarshal(body, &decoded)
			*injectBodies = append(*injectBodies, decoded)
			_, _ = w.Write([]byte(`{"` + clashType.String() + `_clash_id": 7}`))
		})
	}
	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(cdn.Close)

	extraction := NewExtractionClient(nil, api.URL, api.Client())
	orch := NewOrchestrator(nil,
		NewLocator(nil, cdn.Client()),
		NewClassifier(nil, extraction),
		extraction,
		NewInjectionClient(nil, "http://site", api.URL, api.Client()),
		NewClanResolver(map[string]string{"1": "phoenix"}),
		NewPayloadBuilder(),
	)
	cleaner := &fakeCleaner{}
	recorder := &fakeRecorder{}
	orch.SetCleaner(cleaner)
	orch.SetRecorder(recorder)

	return &pipelineFixture{
		orch:          orch,
		cleaner:       cleaner,
		recorder:      recorder,
		imageURL:      cdn.URL,
		classifyCalls: &classifyCalls,
		extractCalls:  &extractCalls,
		injectCalls:   &injectCalls,
		injectBodies:  injectBodies,
	}
}

func imageMessage(text string, imageURLs ...string) channel.InboundMessage {
	msg := channel.InboundMessage{
		ChannelID: "chan-1",
		Message:   channel.Message{ID: "msg-1", Text: text},
	}
	for _, u := range imageURLs {
		name := u[strings.LastIndex(u, "/")+1:]
		msg.Message.Attachments = append(msg.Message.Attachments, channel.Attachment{Name: name, URL: u})
	}
	return msg
}

func TestProcessMessageNoImages(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Hydra")
	result := f.orch.ProcessMessage(context.Background(), imageMessage("nothing here"), ProcessOptions{})

	if result.Total != 0 || result.AllSucceeded {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.extractCalls.Load() != 0 || f.classifyCalls.Load() != 0 || f.injectCalls.Load() != 0 {
		t.Fatal("empty message must not trigger network calls")
	}
	if len(f.recorder.results) != 1 {
		t.Fatalf("expected recorded result, got %d", len(f.recorder.results))
	}
}

func TestProcessMessageAllSucceed(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Hydra")
	msg := imageMessage("hydra scores", f.imageURL+"/one.png", f.imageURL+"/two.png")
	result := f.orch.ProcessMessage(context.Background(), msg, ProcessOptions{ClanToken: "1", DeleteSource: true})

	if result.Type != TypeHydra {
		t.Fatalf("unexpected type %s", result.Type)
	}
	if result.Total != 2 || result.Succeeded != 2 || !result.AllSucceeded || !result.CleanupRan {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.classifyCalls.Load() != 0 {
		t.Fatal("explicit message text must skip the classify call")
	}
	if f.cleaner.deletes.Load() != 1 {
		t.Fatalf("expected one source deletion, got %d", f.cleaner.deletes.Load())
	}
	for _, outcome := range result.Outcomes {
		if outcome.ViewURL != "http://site/hydra/7/edit/" {
			t.Fatalf("unexpected view url %q", outcome.ViewURL)
		}
	}
	for _, body := range *f.injectBodies {
		if body["clan"] != "phoenix" {
			t.Fatalf("expected resolved clan, got %v", body["clan"])
		}
		scores, ok := body["opponent_scores"].(map[string]any)
		if !ok {
			t.Fatalf("unexpected scores %v", body["opponent_scores"])
		}
		if _, has := scores["rotation"]; has {
			t.Fatal("rotation must be stripped from the payload")
		}
	}
}

func TestProcessMessageContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Hydra")
	msg := imageMessage("hydra scores", f.imageURL+"/bad.png", f.imageURL+"/ok.png")
	result := f.orch.ProcessMessage(context.Background(), msg, ProcessOptions{DeleteSource: true})

	if result.Total != 2 || result.Succeeded != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.AllSucceeded || result.CleanupRan {
		t.Fatal("a failed image must block cleanup")
	}
	if f.cleaner.deletes.Load() != 0 {
		t.Fatal("source message must survive a partial failure")
	}
	if result.Outcomes[0].Err == "" || result.Outcomes[1].Err != "" {
		t.Fatalf("unexpected outcomes %+v", result.Outcomes)
	}
}

func TestProcessMessageDryRun(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Hydra")
	msg := imageMessage("chimera night", f.imageURL+"/one.png")
	result := f.orch.ProcessMessage(context.Background(), msg, ProcessOptions{DryRun: true})

	if !result.DryRun || result.Total != 1 || !result.AllSucceeded {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.injectCalls.Load() != 0 {
		t.Fatal("dry run must not call the injection endpoint")
	}
	preview := result.Outcomes[0].Preview
	if !strings.Contains(preview, "opponent_scores") {
		t.Fatalf("unexpected preview %q", preview)
	}
	if strings.Contains(preview, "rotation") {
		t.Fatal("preview must show the sanitized payload")
	}
	if !strings.Contains(result.Summary(), "DRY RUN") {
		t.Fatalf("summary must flag the dry run: %q", result.Summary())
	}
}

func TestProcessMessageUnknownTypeIsHandled(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Siege")
	msg := imageMessage("scores attached", f.imageURL+"/one.png", f.imageURL+"/two.png")
	result := f.orch.ProcessMessage(context.Background(), msg, ProcessOptions{})

	if result.Type != TypeUnknown {
		t.Fatalf("unexpected type %s", result.Type)
	}
	if f.classifyCalls.Load() != 1 {
		t.Fatalf("expected one classify call, got %d", f.classifyCalls.Load())
	}
	if f.injectCalls.Load() != 0 || f.extractCalls.Load() != 0 {
		t.Fatal("an unclassifiable batch must not extract or inject")
	}
	for _, outcome := range result.Outcomes {
		if !outcome.Handled || outcome.Err != "" {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
	if !result.AllSucceeded {
		t.Fatal("an error-free unknown batch still counts as handled")
	}
}

func TestProcessMessageForcedTypeSkipsClassify(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Hydra")
	msg := imageMessage("", f.imageURL+"/one.png")
	result := f.orch.ProcessMessage(context.Background(), msg, ProcessOptions{ForcedType: TypeChimera})

	if result.Type != TypeChimera {
		t.Fatalf("unexpected type %s", result.Type)
	}
	if f.classifyCalls.Load() != 0 {
		t.Fatal("forced type must skip classification")
	}
	if f.injectCalls.Load() != 1 {
		t.Fatalf("expected one injection, got %d", f.injectCalls.Load())
	}
}

func TestProcessMessageCancelledContext(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Hydra")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := imageMessage("hydra", f.imageURL+"/one.png")
	result := f.orch.ProcessMessage(ctx, msg, ProcessOptions{DeleteSource: true})

	if result.AllSucceeded || result.CleanupRan {
		t.Fatalf("cancelled batch must not clean up: %+v", result)
	}
	if f.cleaner.deletes.Load() != 0 {
		t.Fatal("cancelled batch must not delete the source message")
	}
}

func TestProcessMessageWorkDirRemovedAfterSuccess(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Hydra")
	root := t.TempDir()
	f.orch.SetWorkDir(root)

	msg := imageMessage("hydra scores", f.imageURL+"/one.png")
	result := f.orch.ProcessMessage(context.Background(), msg, ProcessOptions{})

	if !result.AllSucceeded || !result.CleanupRan {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, result.BatchID)); !os.IsNotExist(err) {
		t.Fatalf("work dir must be removed after a successful batch, stat err: %v", err)
	}
}

func TestProcessMessageWorkDirRetainedAfterFailure(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, "Hydra")
	root := t.TempDir()
	f.orch.SetWorkDir(root)

	msg := imageMessage("hydra scores", f.imageURL+"/bad.png", f.imageURL+"/ok.png")
	result := f.orch.ProcessMessage(context.Background(), msg, ProcessOptions{})

	if result.AllSucceeded || result.CleanupRan {
		t.Fatalf("unexpected result %+v", result)
	}
	data, err := os.ReadFile(filepath.Join(root, result.BatchID, "ok.png"))
	if err != nil {
		t.Fatalf("expected persisted working file after a partial failure: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected working file content %q", data)
	}
}
