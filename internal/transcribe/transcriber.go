// Package transcribe turns microphone audio captured during a battle into an
// SRT subtitle track. Capture and recognition run as an internal
// producer/consumer pair; the recorder only issues coarse start/pause/
// resume/stop commands.
package transcribe

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoAudio is returned by an AudioSource when nothing worth recognizing
// was heard within its listen window.
var ErrNoAudio = errors.New("no audio captured")

// Chunk is one stretch of mono 16-bit little-endian PCM.
type Chunk struct {
	PCM        []byte
	SampleRate int
}

// Duration is the chunk length in seconds.
func (c Chunk) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.PCM)/2) / float64(c.SampleRate)
}

// AudioSource produces chunks. Listen blocks for at most the source's own
// listen window and returns ErrNoAudio on silence.
type AudioSource interface {
	Listen() (Chunk, error)
	Close() error
}

// Recognizer converts one chunk into text.
type Recognizer interface {
	Recognize(chunk Chunk) (string, error)
}

// Segment is one recognized utterance, timed against recording time.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

type timedChunk struct {
	chunk Chunk
	start float64
	end   float64
}

type Transcriber struct {
	source     AudioSource
	recognizer Recognizer
	watch      *stopwatch

	paused  atomic.Bool
	stopped atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	segments []Segment
}

func New(source AudioSource, recognizer Recognizer) *Transcriber {
	return &Transcriber{
		source:     source,
		recognizer: recognizer,
		watch:      newStopwatch(),
	}
}

// Start resets the transcript and launches the capture and recognition
// goroutines. It does not block on recognition results.
func (t *Transcriber) Start() {
	t.mu.Lock()
	t.segments = nil
	t.mu.Unlock()

	t.watch.Start()
	t.paused.Store(false)
	t.stopped.Store(false)
	t.stop = make(chan struct{})

	queue := make(chan timedChunk, 64)
	t.wg.Add(2)
	go t.captureLoop(queue)
	go t.recognizeLoop(queue)
}

func (t *Transcriber) captureLoop(queue chan<- timedChunk) {
	defer t.wg.Done()
	defer close(queue)

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		if t.paused.Load() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		chunk, err := t.source.Listen()
		if errors.Is(err, ErrNoAudio) {
			continue
		}
		if err != nil {
			log.Printf("Audio capture error: %v", err)
			continue
		}

		end := t.watch.Elapsed()
		start := end - chunk.Duration()
		if start < 0 {
			start = 0
		}

		select {
		case queue <- timedChunk{chunk: chunk, start: start, end: end}:
		case <-t.stop:
			return
		}
	}
}

func (t *Transcriber) recognizeLoop(queue <-chan timedChunk) {
	defer t.wg.Done()

	for tc := range queue {
		text, err := t.recognizer.Recognize(tc.chunk)
		if err != nil {
			log.Printf("Speech recognition error: %v", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		t.mu.Lock()
		t.segments = append(t.segments, Segment{Start: tc.start, End: tc.end, Text: text})
		t.mu.Unlock()
	}
}

// Pause stops timing and capturing until Resume.
func (t *Transcriber) Pause() {
	t.watch.Pause()
	t.paused.Store(true)
}

func (t *Transcriber) Resume() {
	t.watch.Resume()
	t.paused.Store(false)
}

// Stop shuts both goroutines down and blocks until the queue is fully
// drained, so the transcript is complete and immutable afterwards. Safe to
// call more than once.
func (t *Transcriber) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	close(t.stop)
	t.wg.Wait()
}

// SRT renders the transcript. Call after Stop.
func (t *Transcriber) SRT() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for i, seg := range t.segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatTimestamp(seg.Start), formatTimestamp(seg.End), seg.Text)
	}
	return b.String()
}

// formatTimestamp renders seconds as the SRT "HH:MM:SS,mmm" form.
func formatTimestamp(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	millis := int((seconds - float64(total)) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
