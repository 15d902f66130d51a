package transcribe

import (
	"fmt"
	"io"
	"log"
	"math"
	"os/exec"
	"runtime"
)

const (
	micSampleRate   = 16000
	micChunkSeconds = 3
)

// MicrophoneSource captures mono 16 kHz PCM from a microphone through an
// ffmpeg child process reading the platform's capture backend.
type MicrophoneSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func micInputArgs(device string) []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"-f", "dshow", "-i", "audio=" + device}
	case "darwin":
		return []string{"-f", "avfoundation", "-i", ":" + device}
	default:
		return []string{"-f", "pulse", "-i", device}
	}
}

// NewMicrophoneSource starts the capture process. A missing ffmpeg binary or
// an unopenable device is a startup error.
func NewMicrophoneSource(device string) (*MicrophoneSource, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	args := append([]string{"-hide_banner", "-loglevel", "error"}, micInputArgs(device)...)
	args = append(args, "-ac", "1", "-ar", fmt.Sprint(micSampleRate), "-f", "s16le", "-")

	cmd := exec.Command(ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start microphone capture: %w", err)
	}
	log.Printf("Capturing microphone %q via ffmpeg", device)

	return &MicrophoneSource{cmd: cmd, stdout: stdout}, nil
}

// Listen reads one fixed-length chunk. Near-silent chunks are reported as
// ErrNoAudio so the transcriber skips them instead of recognizing noise.
func (m *MicrophoneSource) Listen() (Chunk, error) {
	buf := make([]byte, micSampleRate*2*micChunkSeconds)
	if _, err := io.ReadFull(m.stdout, buf); err != nil {
		return Chunk{}, fmt.Errorf("microphone read failed: %w", err)
	}

	if rmsLevel(buf) < 200 {
		return Chunk{}, ErrNoAudio
	}
	return Chunk{PCM: buf, SampleRate: micSampleRate}, nil
}

// rmsLevel is the root-mean-square amplitude of 16-bit little-endian PCM.
func rmsLevel(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}

func (m *MicrophoneSource) Close() error {
	if m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err != nil {
			return err
		}
	}
	m.cmd.Wait()
	return nil
}
