// Package uistreamtest provides an in-memory uistream.Stream for tests.
package uistreamtest

import (
	"context"

	"commerce-portal-backend/internal/uistream"
)

// Recorder is an in-memory Stream.
type Recorder struct {
	Parts     []uistream.Part
	Finished  bool
	ErrorText string
	Failed    bool
}

func (r *Recorder) Write(_ context.Context, p uistream.Part) error {
	if r.Finished || r.Failed {
		return uistream.ErrClosed
	}
	r.Parts = append(r.Parts, p)
	return nil
}

func (r *Recorder) Finish() error {
	if !r.Failed {
		r.Finished = true
	}
	return nil
}

func (r *Recorder) Fail(message string) error {
	if !r.Finished {
		r.Failed = true
		r.ErrorText = message
	}
	return nil
}

// Count returns how many recorded parts have the given kind.
func (r *Recorder) Count(kind string) int {
	n := 0
	for _, p := range r.Parts {
		if p.Kind() == kind {
			n++
		}
	}
	return n
}

// Kinds lists the recorded part kinds in order.
func (r *Recorder) Kinds() []string {
	out := make([]string, 0, len(r.Parts))
	for _, p := range r.Parts {
		out = append(out, p.Kind())
	}
	return out
}

// Find returns the first recorded part of the given kind.
func (r *Recorder) Find(kind string) (uistream.Part, bool) {
	for _, p := range r.Parts {
		if p.Kind() == kind {
			return p, true
		}
	}
	return uistream.Part{}, false
}

var _ uistream.Stream = (*Recorder)(nil)
