// Package obs is a minimal obs-websocket (protocol v5) client covering the
// controls the recorder needs: virtual camera passthrough and the recording
// lifecycle.
package obs

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const rpcVersion = 1

const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

const requestTimeout = 10 * time.Second

var ErrNotRecording = errors.New("recording is not active")

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	RPCVersion     int `json:"rpcVersion"`
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
}

type request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

// Client is safe for use from one goroutine issuing requests; the disconnect
// callback fires from the internal read goroutine.
type Client struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	pendingMu    sync.Mutex
	pending      map[string]chan response
	closed       atomic.Bool
	onDisconnect func(error)
}

// Dial connects and completes the Identify handshake. onDisconnect fires at
// most once when the connection drops for any reason other than Close.
func Dial(host string, port int, password string, onDisconnect func(error)) (*Client, error) {
	url := fmt.Sprintf("ws://%s:%d", host, port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to obs-websocket at %s: %w", url, err)
	}

	c := &Client{
		conn:         conn,
		pending:      make(map[string]chan response),
		onDisconnect: onDisconnect,
	}

	if err := c.identify(password); err != nil {
		conn.Close()
		return nil, err
	}

	go c.listen()
	return c, nil
}

func (c *Client) identify(password string) error {
	c.conn.SetReadDeadline(time.Now().Add(requestTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	var env envelope
	if err := c.readEnvelope(&env); err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if env.Op != opHello {
		return fmt.Errorf("expected hello (op %d), got op %d", opHello, env.Op)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}

	identify := identifyData{RPCVersion: rpcVersion}
	if hello.Authentication != nil {
		identify.Authentication = authToken(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := c.writeEnvelope(opIdentify, identify); err != nil {
		return fmt.Errorf("sending identify: %w", err)
	}

	if err := c.readEnvelope(&env); err != nil {
		return fmt.Errorf("reading identified: %w", err)
	}
	if env.Op != opIdentified {
		return fmt.Errorf("identify rejected (op %d); check OBS_WS_PASSWORD", env.Op)
	}
	return nil
}

// authToken derives the obs-websocket challenge response:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authToken(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	token := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(token[:])
}

func (c *Client) readEnvelope(env *envelope) error {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, env)
}

func (c *Client) writeEnvelope(op int, d any) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Op: op, D: payload})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) listen() {
	for {
		var env envelope
		if err := c.readEnvelope(&env); err != nil {
			c.failPending()
			if !c.closed.Load() && c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			return
		}
		if env.Op != opRequestResponse {
			continue
		}
		var resp response
		if err := json.Unmarshal(env.D, &resp); err != nil {
			log.Printf("Malformed obs-websocket response: %v", err)
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) call(requestType string, data any, result any) error {
	id := uuid.New().String()
	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeEnvelope(opRequest, request{RequestType: requestType, RequestID: id, RequestData: data}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return fmt.Errorf("%s: %w", requestType, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: connection lost", requestType)
		}
		if !resp.RequestStatus.Result {
			return fmt.Errorf("%s failed: %s (code %d)", requestType, resp.RequestStatus.Comment, resp.RequestStatus.Code)
		}
		if result != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, result); err != nil {
				return fmt.Errorf("%s: decoding response: %w", requestType, err)
			}
		}
		return nil
	case <-time.After(requestTimeout):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return fmt.Errorf("%s: timed out", requestType)
	}
}

// StartVirtualCam starts the virtual camera passthrough; already running is
// not an error.
func (c *Client) StartVirtualCam() error {
	var status struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := c.call("GetVirtualCamStatus", nil, &status); err != nil {
		return err
	}
	if status.OutputActive {
		return nil
	}
	return c.call("StartVirtualCam", nil, nil)
}

// StopVirtualCam stops the passthrough; already stopped is not an error.
func (c *Client) StopVirtualCam() error {
	var status struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := c.call("GetVirtualCamStatus", nil, &status); err != nil {
		return err
	}
	if !status.OutputActive {
		return nil
	}
	return c.call("StopVirtualCam", nil, nil)
}

func (c *Client) recordStatus() (active, paused bool, err error) {
	var status struct {
		OutputActive bool `json:"outputActive"`
		OutputPaused bool `json:"outputPaused"`
	}
	if err := c.call("GetRecordStatus", nil, &status); err != nil {
		return false, false, err
	}
	return status.OutputActive, status.OutputPaused, nil
}

// StartRecording begins a recording; already recording is not an error.
func (c *Client) StartRecording() error {
	active, _, err := c.recordStatus()
	if err != nil {
		return err
	}
	if active {
		return nil
	}
	return c.call("StartRecord", nil, nil)
}

// StopRecording ends the recording and returns the output file path.
func (c *Client) StopRecording() (string, error) {
	active, _, err := c.recordStatus()
	if err != nil {
		return "", err
	}
	if !active {
		return "", ErrNotRecording
	}
	var out struct {
		OutputPath string `json:"outputPath"`
	}
	if err := c.call("StopRecord", nil, &out); err != nil {
		return "", err
	}
	if out.OutputPath == "" {
		return "", errors.New("obs reported no output path")
	}
	return out.OutputPath, nil
}

// PauseRecording pauses; already paused is not an error.
func (c *Client) PauseRecording() error {
	_, paused, err := c.recordStatus()
	if err != nil {
		return err
	}
	if paused {
		return nil
	}
	return c.call("PauseRecord", nil, nil)
}

// ResumeRecording resumes; not paused is not an error.
func (c *Client) ResumeRecording() error {
	_, paused, err := c.recordStatus()
	if err != nil {
		return err
	}
	if !paused {
		return nil
	}
	return c.call("ResumeRecord", nil, nil)
}

// Close tears the connection down without firing the disconnect callback.
// The passthrough is stopped on a best-effort basis first.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if err := c.StopVirtualCam(); err != nil {
		log.Printf("Stopping virtual camera on close failed: %v", err)
	}
	return c.conn.Close()
}
