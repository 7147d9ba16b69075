// Package sse splits an orchestrator Server-Sent-Events byte stream into
// frames and parses each frame into a typed event.
//
// Frames are delimited by a blank line. The buffer works on the cumulative
// pending text so a delimiter split across two reads is still found.
package sse

import "strings"

// Delimiter separates frames in the inbound stream.
const Delimiter = "\n\n"

// FrameBuffer accumulates raw chunks and yields complete frames.
// It is not safe for concurrent use; one buffer serves one stream.
type FrameBuffer struct {
	pending  string
	trailing bool // last chunk ended with '\r'
}

// Push appends chunk and returns every frame completed by it, in order.
// The trailing fragment is retained until a later chunk completes it.
func (b *FrameBuffer) Push(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	b.pending += b.normalize(string(chunk))
	parts := strings.Split(b.pending, Delimiter)
	b.pending = parts[len(parts)-1]
	frames := parts[:len(parts)-1]
	out := frames[:0]
	for _, f := range frames {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	return out
}

// Flush ends the stream. A non-empty remainder is an incomplete frame and
// is discarded; the return value reports whether anything was dropped.
func (b *FrameBuffer) Flush() (dropped string) {
	dropped = b.pending
	b.pending = ""
	b.trailing = false
	if strings.TrimSpace(dropped) == "" {
		return ""
	}
	return dropped
}

// normalize folds CRLF and bare CR line endings to LF. A chunk ending in
// '\r' defers the decision to the next chunk so "\r" + "\n" is one break.
func (b *FrameBuffer) normalize(s string) string {
	if !strings.ContainsRune(s, '\r') && !b.trailing {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	i := 0
	if b.trailing {
		b.trailing = false
		if strings.HasPrefix(s, "\n") {
			i = 1
		}
	}
	for ; i < len(s); i++ {
		c := s[i]
		if c != '\r' {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('\n')
		if i+1 == len(s) {
			b.trailing = true
		} else if s[i+1] == '\n' {
			i++
		}
	}
	return sb.String()
}
