// Package recorder drives the recording lifecycle. A single loop pulls
// frames from the capture source, classifies them, and advances a state
// machine that tells the recording backend when to start, pause, resume and
// stop. Completed recordings are handed to the upload queue together with
// the metadata accumulated along the way.
package recorder

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/splatrec/splatrec/internal/battle"
	"github.com/splatrec/splatrec/internal/obs"
)

const (
	// powerCheckInterval bounds how often the power predicates run.
	powerCheckInterval = 10 * time.Second
	// powerDebounce is the number of consecutive detections required
	// before a power transition is committed.
	powerDebounce = 3
	// recordTimeout forces a stop when an end-of-battle signal was missed.
	recordTimeout = 600 * time.Second
	// abortWindow is how long after battle start an abort is still
	// recognized.
	abortWindow = 90 * time.Second
)

// ErrNoResumePredicate means PAUSE was entered without storing the condition
// that ends it. That is a bug in the transition that entered PAUSE, not a
// runtime condition, so it terminates the loop.
var ErrNoResumePredicate = errors.New("paused without a resume predicate")

type Status int32

const (
	StatusOff Status = iota
	StatusWait
	StatusRecord
	StatusPause
)

func (s Status) String() string {
	switch s {
	case StatusOff:
		return "off"
	case StatusWait:
		return "wait"
	case StatusRecord:
		return "record"
	case StatusPause:
		return "pause"
	}
	return "unknown"
}

// FrameSource delivers frames one at a time. Read blocks until a frame is
// available; a failed read ends the run loop.
type FrameSource interface {
	Read() (gocv.Mat, float64, error)
	Close() error
}

// Backend is the recording service control channel.
type Backend interface {
	StartVirtualCam() error
	StartRecording() error
	StopRecording() (string, error)
	PauseRecording() error
	ResumeRecording() error
}

// Transcriber receives coarse lifecycle commands; Stop blocks until the
// transcript is complete.
type Transcriber interface {
	Start()
	Pause()
	Resume()
	Stop()
	SRT() string
}

// Classifier answers the per-frame questions the state machine asks. The
// production implementation is analyzer.Analyzer.
type Classifier interface {
	PowerOff(img gocv.Mat) bool
	VirtualCameraOff(img gocv.Mat) bool
	Loading(img gocv.Mat) bool
	MatchingStart(img gocv.Mat) bool
	ChangeSchedule(img gocv.Mat) bool
	BattleStart(img gocv.Mat) bool
	BattleFinish(img gocv.Mat) bool
	BattleStop(img gocv.Mat) bool
	BattleAbort(img gocv.Mat) bool
	BattleOutcome(img gocv.Mat) string
	OutcomeLatterHalf(img gocv.Mat) bool
	MatchName(img gocv.Mat) string
	RuleName(img gocv.Mat) string
	StageName(img gocv.Mat) string
	Rating(img gocv.Mat) battle.Rating
	KillRecord(img gocv.Mat) (kill, death, special int, ok bool)
}

// UploadQueue receives finished recordings.
type UploadQueue interface {
	Enqueue(path string, result *battle.Result, frame gocv.Mat, subtitles string) error
}

type Recorder struct {
	source      FrameSource
	backend     Backend
	classifier  Classifier
	transcriber Transcriber
	queue       UploadQueue
	fileMode    bool

	status   atomic.Int32
	stopFlag atomic.Bool

	mu     sync.Mutex
	result *battle.Result

	recordStartTime  time.Time
	lastPowerCheck   time.Time
	powerOffCount    int
	powerOnCount     int
	stillPaused      func(gocv.Mat) bool
	powerOffCallback func()

	now        func() time.Time
	deleteFile func(string) error
}

// Options carries the optional collaborators.
type Options struct {
	// Transcriber may be nil when no microphone is configured.
	Transcriber Transcriber
	// FileMode bypasses the matching-start gate, for analyzing
	// pre-recorded files whose matching phase was never captured.
	FileMode bool
	// DeleteFile overrides how cancelled recordings are removed.
	DeleteFile func(string) error
}

func New(source FrameSource, backend Backend, classifier Classifier, queue UploadQueue, opts Options) *Recorder {
	r := &Recorder{
		source:      source,
		backend:     backend,
		classifier:  classifier,
		transcriber: opts.Transcriber,
		queue:       queue,
		fileMode:    opts.FileMode,
		result:      battle.NewResult(),
		now:         time.Now,
		deleteFile:  opts.DeleteFile,
	}
	if r.deleteFile == nil {
		r.deleteFile = removeWithRetry
	}
	return r
}

// RegisterPowerOffCallback sets the function invoked once per ON to OFF
// transition. It runs synchronously on the driving loop, so it must not
// block.
func (r *Recorder) RegisterPowerOffCallback(fn func()) {
	r.powerOffCallback = fn
}

// Status is safe to call from other goroutines.
func (r *Recorder) Status() Status {
	return Status(r.status.Load())
}

func (r *Recorder) setStatus(s Status) {
	if Status(r.status.Load()) != s {
		log.Printf("Recorder state: %s", s)
	}
	r.status.Store(int32(s))
}

// Snapshot copies the current accumulator for read-only inspection.
func (r *Recorder) Snapshot() battle.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.result
}

// Stop requests a cooperative shutdown; the loop observes it within one
// frame iteration.
func (r *Recorder) Stop() {
	r.stopFlag.Store(true)
}

// Run drives the state machine until Stop is called or a fatal error
// occurs. It owns the frame source and closes it on exit.
func (r *Recorder) Run() error {
	defer r.source.Close()

	for !r.stopFlag.Load() {
		frame, _, err := r.source.Read()
		if err != nil {
			return fmt.Errorf("frame source failed: %w", err)
		}
		err = r.process(frame)
		frame.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) process(frame gocv.Mat) error {
	if err := r.checkPower(frame); err != nil {
		return err
	}

	switch r.Status() {
	case StatusOff:
		return nil
	case StatusWait:
		return r.handleWait(frame)
	case StatusRecord:
		return r.handleRecord(frame)
	case StatusPause:
		return r.handlePause(frame)
	}
	return nil
}

// checkPower runs before per-state dispatch, rate-limited in every state so
// the whole-frame power predicates stay off the per-frame hot path. Both
// edges are debounced against single-frame misreads.
func (r *Recorder) checkPower(frame gocv.Mat) error {
	now := r.now()
	if now.Sub(r.lastPowerCheck) < powerCheckInterval {
		return nil
	}
	r.lastPowerCheck = now

	if r.classifier.VirtualCameraOff(frame) {
		log.Print("Virtual camera is off, restarting passthrough")
		if err := r.backend.StartVirtualCam(); err != nil {
			return fmt.Errorf("failed to restart virtual camera: %w", err)
		}
		r.setStatus(StatusOff)
		return nil
	}

	if r.classifier.PowerOff(frame) {
		r.powerOnCount = 0
		r.powerOffCount++
		if r.powerOffCount >= powerDebounce && r.Status() != StatusOff {
			log.Print("Power off detected")
			r.setStatus(StatusOff)
			if r.powerOffCallback != nil {
				r.powerOffCallback()
			}
		}
		return nil
	}

	r.powerOffCount = 0
	r.powerOnCount++
	if r.Status() == StatusOff && r.powerOnCount >= powerDebounce {
		log.Print("Power on detected")
		r.resetResult()
		r.setStatus(StatusWait)
	}
	return nil
}

func (r *Recorder) resetResult() {
	r.mu.Lock()
	r.result = battle.NewResult()
	r.mu.Unlock()
}

func (r *Recorder) handleWait(frame gocv.Mat) error {
	// The schedule-change template match only matters when there is
	// accumulated state to discard, so the cheap check gates it.
	r.mu.Lock()
	partial := !r.result.Start.IsZero() || r.result.Rating != nil
	r.mu.Unlock()
	if partial && r.classifier.ChangeSchedule(frame) {
		log.Print("Schedule changed, resetting accumulated metadata")
		r.resetResult()
		return nil
	}

	if rating := r.classifier.Rating(frame); rating != nil {
		r.mu.Lock()
		if !battle.SameRating(rating, r.result.Rating) {
			log.Printf("Rating: %s %s", rating.Label(), rating)
			r.result.Rating = rating
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	started := !r.result.Start.IsZero()
	r.mu.Unlock()
	if !started && r.classifier.MatchingStart(frame) {
		log.Print("Matching started")
		r.mu.Lock()
		r.result.Start = r.now()
		started = true
		r.mu.Unlock()
	}

	// The battle-start template match is expensive, so it only runs once
	// matching is known to be underway. A pre-recorded file may not
	// contain the matching phase at all.
	if (started || r.fileMode) && r.classifier.BattleStart(frame) {
		return r.startRecord()
	}
	return nil
}

func (r *Recorder) startRecord() error {
	if err := r.backend.StartRecording(); err != nil {
		log.Printf("Failed to start recording: %v", err)
		return nil
	}
	log.Print("Battle started, recording")
	if r.transcriber != nil {
		r.transcriber.Start()
	}
	r.recordStartTime = r.now()
	r.setStatus(StatusRecord)
	return nil
}

func (r *Recorder) handleRecord(frame gocv.Mat) error {
	elapsed := r.now().Sub(r.recordStartTime)

	if elapsed > recordTimeout {
		log.Printf("Recording exceeded %s, forcing stop", recordTimeout)
		return r.stopRecord(frame)
	}

	if elapsed < abortWindow && r.classifier.BattleAbort(frame) {
		log.Print("Battle aborted")
		return r.cancelRecord()
	}

	r.mu.Lock()
	outcome := r.result.Outcome
	r.mu.Unlock()

	if outcome == "" {
		// The outcome text is only readable in the second half of
		// the finish banner, so the banner itself pauses the
		// recording until that half arrives.
		if r.classifier.BattleFinish(frame) {
			log.Print("Battle finished")
			return r.pauseRecord(func(f gocv.Mat) bool {
				return !r.classifier.OutcomeLatterHalf(f)
			})
		}
		if o := r.classifier.BattleOutcome(frame); o != "" {
			log.Printf("Battle outcome: %s", o)
			r.mu.Lock()
			r.result.Outcome = o
			r.mu.Unlock()
		}
		return nil
	}

	if r.classifier.Loading(frame) {
		return r.pauseRecord(r.classifier.Loading)
	}

	if r.classifier.BattleStop(frame) {
		return r.stopRecord(frame)
	}
	return nil
}

// pauseRecord enters PAUSE, storing the predicate that keeps it there.
func (r *Recorder) pauseRecord(stillPaused func(gocv.Mat) bool) error {
	if err := r.backend.PauseRecording(); err != nil {
		log.Printf("Failed to pause recording: %v", err)
		return nil
	}
	if r.transcriber != nil {
		r.transcriber.Pause()
	}
	r.stillPaused = stillPaused
	r.setStatus(StatusPause)
	return nil
}

func (r *Recorder) handlePause(frame gocv.Mat) error {
	if r.stillPaused == nil {
		return ErrNoResumePredicate
	}
	if r.stillPaused(frame) {
		return nil
	}

	if err := r.backend.ResumeRecording(); err != nil {
		log.Printf("Failed to resume recording: %v", err)
	}
	if r.transcriber != nil {
		r.transcriber.Resume()
	}
	r.stillPaused = nil
	r.setStatus(StatusRecord)

	// The frame that cleared the pause condition often already shows the
	// next signal (the outcome after the finish banner), so it is
	// dispatched to RECORD immediately instead of being dropped.
	return r.handleRecord(frame)
}

// cancelRecord discards the recording and the accumulator without handoff.
func (r *Recorder) cancelRecord() error {
	defer func() {
		r.resetResult()
		r.setStatus(StatusWait)
	}()

	if r.transcriber != nil {
		r.transcriber.Stop()
	}
	path, err := r.backend.StopRecording()
	if err != nil {
		log.Printf("Failed to stop recording on cancel: %v", err)
		return nil
	}
	if err := r.deleteFile(path); err != nil {
		log.Printf("Failed to delete cancelled recording %s: %v", path, err)
	}
	return nil
}

// removeWithRetry deletes a file, retrying while the backend finishes
// releasing its handle on the freshly closed output.
func removeWithRetry(path string) error {
	var err error
	for i := 0; i < 10; i++ {
		if err = os.Remove(path); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

// stopRecord finalizes the battle. The transcriber is drained before the
// backend is told to stop, because subtitle timing references the
// recording's own clock. Failures here are logged, never fatal, and the
// accumulator is reset no matter what.
func (r *Recorder) stopRecord(frame gocv.Mat) error {
	defer func() {
		r.resetResult()
		r.setStatus(StatusWait)
	}()

	var subtitles string
	if r.transcriber != nil {
		r.transcriber.Stop()
		subtitles = r.transcriber.SRT()
	}

	path, err := r.backend.StopRecording()
	if err != nil {
		log.Printf("Failed to stop recording: %v", err)
		return nil
	}

	r.mu.Lock()
	if r.result.Start.IsZero() {
		// No matching-start was seen; the backend embeds the start
		// time in the output filename. An unparseable name still gets
		// a timestamp, the row requires one.
		if ts, ok := obs.ExtractStartTime(path); ok {
			r.result.Start = ts
		} else {
			r.result.Start = r.now()
		}
	}
	r.result.Match = r.classifier.MatchName(frame)
	r.result.Rule = r.classifier.RuleName(frame)
	r.result.Stage = r.classifier.StageName(frame)
	if kill, death, special, ok := r.classifier.KillRecord(frame); ok {
		r.result.SetKillRecord(kill, death, special)
	}
	result := r.result
	r.mu.Unlock()

	log.Printf("Battle recorded: %s %s at %s, outcome %s", result.Match, result.Rule, result.Stage, result.Outcome)
	if err := r.queue.Enqueue(path, result, frame, subtitles); err != nil {
		log.Printf("Failed to enqueue recording %s: %v", path, err)
	}
	return nil
}
