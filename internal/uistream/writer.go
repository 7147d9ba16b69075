package uistream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
	ErrStreamingUnsupported = errors.New("streaming unsupported")
	// ErrClosed is returned for writes after Finish or Fail.
	ErrClosed = errors.New("ui stream closed")
	// ErrSegmentReopened is returned for a second text-start in one response.
	ErrSegmentReopened = errors.New("text segment already opened in this response")
	// ErrNoSegment is returned for a text-delta outside an open segment.
	ErrNoSegment = errors.New("text-delta without an open text segment")
)

type wirePart struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Data      any    `json:"data,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

// Writer emits parts as SSE frames on an HTTP response, flushing after
// every frame. At most one text segment is opened per response.
type Writer struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	messageID string
	textID    string
	opened    bool
	textOpen  bool
	textDone  bool
	closed    bool
}

// NewWriter wraps w. messageID identifies the assistant message; a random
// id is used when empty.
func NewWriter(w http.ResponseWriter, messageID string) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	if messageID == "" {
		messageID = "msg_" + uuid.NewString()
	}
	return &Writer{w: w, flusher: flusher, messageID: messageID}, nil
}

// SetHeaders marks the response as a non-buffered, non-cached event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Vercel-AI-UI-Message-Stream", "v1")
}

// Open commits the status line and headers and writes the start part.
// Extra headers (e.g. X-Thread-Id) must be set before calling Open.
func (sw *Writer) Open() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.openLocked()
}

func (sw *Writer) openLocked() error {
	if sw.opened {
		return nil
	}
	SetHeaders(sw.w.Header())
	sw.w.WriteHeader(http.StatusOK)
	sw.opened = true
	return sw.frameLocked(wirePart{Type: TypeStart, MessageID: sw.messageID})
}

// Write implements Sink.
func (sw *Writer) Write(ctx context.Context, p Part) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrClosed
	}
	if err := sw.openLocked(); err != nil {
		return err
	}
	switch p.Type {
	case TypeTextStart:
		if sw.textOpen || sw.textDone {
			return ErrSegmentReopened
		}
		sw.textID = "txt_" + uuid.NewString()
		sw.textOpen = true
		return sw.frameLocked(wirePart{Type: TypeTextStart, ID: sw.textID})
	case TypeTextDelta:
		if !sw.textOpen {
			return ErrNoSegment
		}
		return sw.frameLocked(wirePart{Type: TypeTextDelta, ID: sw.textID, Delta: p.Delta})
	case TypeTextEnd:
		if !sw.textOpen {
			return nil
		}
		sw.textOpen = false
		sw.textDone = true
		return sw.frameLocked(wirePart{Type: TypeTextEnd, ID: sw.textID})
	case "":
		return sw.frameLocked(wirePart{Type: "data-" + p.Name, Data: p.Data})
	default:
		return fmt.Errorf("unsupported part type %q", p.Type)
	}
}

// Finish closes any open text segment and terminates the stream normally.
func (sw *Writer) Finish() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return nil
	}
	if err := sw.openLocked(); err != nil {
		return err
	}
	sw.closed = true
	if sw.textOpen {
		sw.textOpen = false
		if err := sw.frameLocked(wirePart{Type: TypeTextEnd, ID: sw.textID}); err != nil {
			return err
		}
	}
	if err := sw.frameLocked(wirePart{Type: TypeFinish}); err != nil {
		return err
	}
	return sw.rawLocked("data: [DONE]\n\n")
}

// Fail terminates the stream in an error state. Parts already written stay
// visible to the client.
func (sw *Writer) Fail(message string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return nil
	}
	if err := sw.openLocked(); err != nil {
		return err
	}
	sw.closed = true
	return sw.frameLocked(wirePart{Type: TypeError, ErrorText: message})
}

func (sw *Writer) frameLocked(p wirePart) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s part: %w", p.Type, err)
	}
	return sw.rawLocked("data: " + string(b) + "\n\n")
}

func (sw *Writer) rawLocked(s string) error {
	if _, err := sw.w.Write([]byte(s)); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

var _ Stream = (*Writer)(nil)
