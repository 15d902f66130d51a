package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/splatrec/splatrec/internal/battle"
	"github.com/splatrec/splatrec/internal/database"
	"github.com/splatrec/splatrec/internal/recorder"
)

type fakeRecorder struct {
	status recorder.Status
	snap   battle.Result
}

func (f *fakeRecorder) Status() recorder.Status { return f.status }
func (f *fakeRecorder) Snapshot() battle.Result { return f.snap }

type fakeQueue struct {
	pending  []*database.BattleRecord
	err      error
	uploaded []string
}

func (f *fakeQueue) Pending(context.Context) ([]*database.BattleRecord, error) {
	return f.pending, f.err
}

func (f *fakeQueue) MarkUploaded(_ context.Context, id string) error {
	for _, r := range f.pending {
		if r.ID == id {
			f.uploaded = append(f.uploaded, id)
			return nil
		}
	}
	return errors.New("not found")
}

type fakeArtifacts struct {
	files map[string]string
}

type stringFile struct {
	*strings.Reader
}

func (stringFile) Close() error { return nil }

func (f *fakeArtifacts) OpenFile(path string) (io.ReadSeekCloser, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return stringFile{strings.NewReader(content)}, nil
}

func newTestServer(app *App) *httptest.Server {
	return httptest.NewServer(NewRouter(app))
}

func TestPingHandler(t *testing.T) {
	rank, _ := battle.NewRankTier("S")
	app := &App{
		Recorder: &fakeRecorder{status: recorder.StatusWait, snap: battle.Result{Rating: rank}},
		Queue:    &fakeQueue{},
		Storage:  &fakeArtifacts{},
	}
	server := newTestServer(app)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ping")
	if err != nil {
		t.Fatalf("GET /ping failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "pong" {
		t.Errorf("GET /ping = %d %q", resp.StatusCode, body)
	}
}

func TestStatusHandler(t *testing.T) {
	rank, _ := battle.NewRankTier("S+")
	snap := battle.Result{
		Start:   time.Date(2026, 3, 1, 21, 0, 7, 0, time.UTC),
		Match:   "X Battle",
		Rule:    "Tower Control",
		Outcome: "WIN",
		Rating:  rank,
	}
	app := &App{
		Recorder: &fakeRecorder{status: recorder.StatusRecord, snap: snap},
		Queue:    &fakeQueue{},
		Storage:  &fakeArtifacts{},
	}
	server := newTestServer(app)
	defer server.Close()

	resp, err := http.Get(server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		Status string `json:"status"`
		Battle struct {
			Start   string `json:"start"`
			Match   string `json:"match"`
			Outcome string `json:"outcome"`
			Rating  string `json:"rating"`
		} `json:"battle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode status response: %v", err)
	}
	if got.Status != "record" {
		t.Errorf("status = %q, want record", got.Status)
	}
	if got.Battle.Match != "X Battle" || got.Battle.Outcome != "WIN" || got.Battle.Rating != "S+" {
		t.Errorf("battle = %+v", got.Battle)
	}
	if got.Battle.Start != "2026-03-01T21:00:07Z" {
		t.Errorf("start = %q", got.Battle.Start)
	}
}

func TestQueueHandler(t *testing.T) {
	queue := &fakeQueue{pending: []*database.BattleRecord{
		{ID: "abc", VideoPath: "/recordings/a.mkv", Outcome: "LOSE"},
	}}
	app := &App{
		Recorder: &fakeRecorder{},
		Queue:    queue,
		Storage:  &fakeArtifacts{},
	}
	server := newTestServer(app)
	defer server.Close()

	resp, err := http.Get(server.URL + "/queue")
	if err != nil {
		t.Fatalf("GET /queue failed: %v", err)
	}
	defer resp.Body.Close()

	var got []database.BattleRecord
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode queue response: %v", err)
	}
	if len(got) != 1 || got[0].ID != "abc" {
		t.Errorf("queue = %+v", got)
	}
}

func TestQueueHandlerEmptyIsArray(t *testing.T) {
	app := &App{
		Recorder: &fakeRecorder{},
		Queue:    &fakeQueue{},
		Storage:  &fakeArtifacts{},
	}
	server := newTestServer(app)
	defer server.Close()

	resp, err := http.Get(server.URL + "/queue")
	if err != nil {
		t.Fatalf("GET /queue failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
		t.Errorf("empty queue must encode as an array, got %q", body)
	}
}

func TestMarkUploadedHandler(t *testing.T) {
	queue := &fakeQueue{pending: []*database.BattleRecord{{ID: "abc"}}}
	app := &App{
		Recorder: &fakeRecorder{},
		Queue:    queue,
		Storage:  &fakeArtifacts{},
	}
	server := newTestServer(app)
	defer server.Close()

	resp, err := http.Post(server.URL+"/queue/abc/uploaded", "", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if len(queue.uploaded) != 1 || queue.uploaded[0] != "abc" {
		t.Errorf("uploaded = %v", queue.uploaded)
	}

	resp, err = http.Post(server.URL+"/queue/missing/uploaded", "", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for missing record = %d, want 404", resp.StatusCode)
	}
}

func TestArtifactHandler(t *testing.T) {
	app := &App{
		Recorder: &fakeRecorder{},
		Queue:    &fakeQueue{},
		Storage:  &fakeArtifacts{files: map[string]string{"sub.srt": "1\n00:00:01,000 --> 00:00:02,000\nhi\n\n"}},
	}
	server := newTestServer(app)
	defer server.Close()

	resp, err := http.Get(server.URL + "/artifacts/sub.srt")
	if err != nil {
		t.Fatalf("GET artifact failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "hi") {
		t.Errorf("GET artifact = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(server.URL + "/artifacts/missing.png")
	if err != nil {
		t.Fatalf("GET missing artifact failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status for missing artifact = %d, want 404", resp.StatusCode)
	}
}
