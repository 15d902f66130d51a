package transcribe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// WhisperRecognizer sends chunks to an OpenAI-compatible
// /audio/transcriptions endpoint (a local whisper server or a hosted one).
type WhisperRecognizer struct {
	url      string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

func NewWhisperRecognizer(url, apiKey, model, language string) *WhisperRecognizer {
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperRecognizer{
		url:      url,
		apiKey:   apiKey,
		model:    model,
		language: language,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WhisperRecognizer) Recognize(chunk Chunk) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return "", err
	}
	if err := writeWAV(part, chunk); err != nil {
		return "", err
	}
	form.WriteField("model", w.model)
	if w.language != "" {
		form.WriteField("language", w.language)
	}
	form.WriteField("response_format", "json")
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, w.url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding transcription response: %w", err)
	}
	return out.Text, nil
}

// writeWAV wraps raw mono 16-bit PCM in a RIFF header.
func writeWAV(w io.Writer, chunk Chunk) error {
	dataLen := uint32(len(chunk.PCM))
	sampleRate := uint32(chunk.SampleRate)

	var header bytes.Buffer
	header.WriteString("RIFF")
	binary.Write(&header, binary.LittleEndian, 36+dataLen)
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	binary.Write(&header, binary.LittleEndian, uint32(16))
	binary.Write(&header, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&header, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&header, binary.LittleEndian, sampleRate)
	binary.Write(&header, binary.LittleEndian, sampleRate*2) // byte rate
	binary.Write(&header, binary.LittleEndian, uint16(2))    // block align
	binary.Write(&header, binary.LittleEndian, uint16(16))   // bits per sample
	header.WriteString("data")
	binary.Write(&header, binary.LittleEndian, dataLen)

	if _, err := w.Write(header.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(chunk.PCM)
	return err
}
