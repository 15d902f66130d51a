package transcribe

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedSource feeds a fixed list of chunks, then reports silence forever.
type scriptedSource struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (s *scriptedSource) Listen() (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		time.Sleep(10 * time.Millisecond)
		return Chunk{}, ErrNoAudio
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *scriptedSource) Close() error { return nil }

type echoRecognizer struct {
	texts []string
	mu    sync.Mutex
	calls int
}

func (r *echoRecognizer) Recognize(Chunk) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls >= len(r.texts) {
		return "", errors.New("unexpected chunk")
	}
	text := r.texts[r.calls]
	r.calls++
	return text, nil
}

func pcmChunk(seconds int) Chunk {
	return Chunk{PCM: make([]byte, 16000*2*seconds), SampleRate: 16000}
}

func TestTranscriberProducesOrderedSRT(t *testing.T) {
	source := &scriptedSource{chunks: []Chunk{pcmChunk(3), pcmChunk(3)}}
	rec := &echoRecognizer{texts: []string{"nice shot", "booyah"}}

	tr := New(source, rec)
	tr.Start()

	// Give the pipeline time to drain both chunks before stopping.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		done := rec.calls == 2
		rec.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	tr.Stop()

	srt := tr.SRT()
	if !strings.Contains(srt, "nice shot") || !strings.Contains(srt, "booyah") {
		t.Fatalf("transcript missing recognized text:\n%s", srt)
	}
	if strings.Index(srt, "nice shot") > strings.Index(srt, "booyah") {
		t.Fatalf("segments out of order:\n%s", srt)
	}
	if !strings.HasPrefix(srt, "1\n") || !strings.Contains(srt, "\n2\n") {
		t.Fatalf("expected sequential cue indices:\n%s", srt)
	}
	if !strings.Contains(srt, " --> ") {
		t.Fatalf("expected SRT time arrows:\n%s", srt)
	}
}

func TestTranscriberStopIsIdempotent(t *testing.T) {
	tr := New(&scriptedSource{}, &echoRecognizer{})
	tr.Start()
	tr.Stop()
	tr.Stop()
}

func TestTranscriberRecognizerErrorSkipsSegment(t *testing.T) {
	source := &scriptedSource{chunks: []Chunk{pcmChunk(3)}}
	tr := New(source, &echoRecognizer{}) // no scripted texts, so every call errors
	tr.Start()
	time.Sleep(100 * time.Millisecond)
	tr.Stop()

	if srt := tr.SRT(); srt != "" {
		t.Fatalf("expected empty transcript, got:\n%s", srt)
	}
}

func TestStopwatchSkipsPausedTime(t *testing.T) {
	clock := time.Unix(1000, 0)
	w := newStopwatch()
	w.now = func() time.Time { return clock }

	w.Start()
	clock = clock.Add(10 * time.Second)
	if got := w.Elapsed(); got != 10 {
		t.Fatalf("Elapsed() = %v, want 10", got)
	}

	w.Pause()
	clock = clock.Add(30 * time.Second)
	if got := w.Elapsed(); got != 10 {
		t.Fatalf("Elapsed() during pause = %v, want 10", got)
	}

	w.Resume()
	clock = clock.Add(5 * time.Second)
	if got := w.Elapsed(); got != 15 {
		t.Fatalf("Elapsed() after resume = %v, want 15", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00,000"},
		{1.5, "00:00:01,500"},
		{61.25, "00:01:01,250"},
		{3661.999, "01:01:01,999"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.seconds); got != tt.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestChunkDuration(t *testing.T) {
	if got := pcmChunk(3).Duration(); got != 3 {
		t.Errorf("Duration() = %v, want 3", got)
	}
	if got := (Chunk{}).Duration(); got != 0 {
		t.Errorf("zero chunk Duration() = %v, want 0", got)
	}
}

func TestRMSLevel(t *testing.T) {
	silence := make([]byte, 16000*2)
	if got := rmsLevel(silence); got != 0 {
		t.Errorf("rmsLevel(silence) = %v, want 0", got)
	}

	loud := make([]byte, 16000*2)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0x00
		loud[i+1] = 0x10 // 4096
	}
	if got := rmsLevel(loud); got < 4000 || got > 4200 {
		t.Errorf("rmsLevel(loud) = %v, want about 4096", got)
	}
}
