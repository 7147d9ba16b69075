// Package bridge translates the orchestrator's SSE stream into the UI
// message stream for one chat turn.
//
// The pipeline is FrameBuffer -> ParseFrame -> State.Apply, driven by a
// single read loop. When the stream ends the terminal payload is enriched
// into data parts, the turn is persisted and the outbound stream finished.
// Persistence runs only before the upstream call and after the last
// artifact is written, so it never delays streamed thinking or text.
package bridge

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"commerce-portal-backend/internal/dedupe"
	"commerce-portal-backend/internal/sse"
	"commerce-portal-backend/internal/store"
	"commerce-portal-backend/internal/uistream"
)

const (
	defaultReadSize       = 32 * 1024
	defaultPersistTimeout = 3 * time.Second
)

// InterruptedText is sent to the client when the upstream read fails.
const InterruptedText = "The response was interrupted. Please try again."

// Options configures a Bridge. Store and Seen may be nil.
type Options struct {
	Store          store.ThreadStore
	Seen           dedupe.Set
	Logger         *zap.Logger
	PersistTimeout time.Duration
	ReadSize       int
}

// Bridge runs chat turns. It is safe for concurrent use; all per-turn
// state lives in Turn and in the read loop.
type Bridge struct {
	store          store.ThreadStore
	seen           dedupe.Set
	logger         *zap.Logger
	persistTimeout time.Duration
	readSize       int
}

func New(opts Options) *Bridge {
	b := &Bridge{
		store:          opts.Store,
		seen:           opts.Seen,
		logger:         opts.Logger,
		persistTimeout: opts.PersistTimeout,
		readSize:       opts.ReadSize,
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.persistTimeout <= 0 {
		b.persistTimeout = defaultPersistTimeout
	}
	if b.readSize <= 0 {
		b.readSize = defaultReadSize
	}
	return b
}

// PersistenceEnabled reports whether a store is configured.
func (b *Bridge) PersistenceEnabled() bool { return b.store != nil }

// Turn carries one request through Prepare and Stream.
type Turn struct {
	OwnerID string
	// RequestedThreadID is the client-supplied thread id, possibly empty.
	RequestedThreadID string
	ClientMessageID   string
	InputText         string
	BundleID          string

	// Thread is set by Prepare when persistence resolved a thread.
	Thread *ThreadRef
}

// Outcome summarises a completed turn.
type Outcome struct {
	Summary  string
	Title    string
	Fallback bool
	// Enriched is true when a terminal payload was processed.
	Enriched bool
}

// Prepare resolves the thread and stores the user's message. Failures are
// logged and leave the turn unpersisted; they never fail the request.
func (b *Bridge) Prepare(ctx context.Context, turn *Turn) {
	if b.store == nil {
		return
	}
	logger := b.logger.With(zap.String("owner_id", turn.OwnerID))
	pctx, cancel := b.persistContext(ctx)
	defer cancel()

	threadID, created, err := b.store.ResolveThread(pctx, turn.OwnerID, turn.RequestedThreadID)
	if err != nil {
		logger.Warn("[chat] resolve thread failed; continuing without persistence", zap.Error(err))
		return
	}
	turn.Thread = &ThreadRef{ID: threadID, Created: created}
	logger = logger.With(zap.String("thread_id", threadID))
	if turn.RequestedThreadID != "" && created {
		logger.Info("[chat] requested thread not usable; created a new one", zap.String("requested_thread_id", turn.RequestedThreadID))
	}

	if b.firstDelivery(pctx, turn, logger) {
		err = b.store.AppendMessage(pctx, store.Message{
			ThreadID:        threadID,
			Role:            store.RoleUser,
			Content:         turn.InputText,
			ClientMessageID: turn.ClientMessageID,
		})
		if err != nil {
			logger.Warn("[chat] store user message failed", zap.Error(err))
		}
	}
	if err := b.store.TouchThread(pctx, threadID); err != nil {
		logger.Warn("[chat] touch thread failed", zap.Error(err))
	}
}

// firstDelivery reports whether this client message has not been stored
// yet. Without a client id or a seen set every delivery counts as first.
func (b *Bridge) firstDelivery(ctx context.Context, turn *Turn, logger *zap.Logger) bool {
	if b.seen == nil || turn.ClientMessageID == "" {
		return true
	}
	first, err := b.seen.MarkOnce(ctx, "thread:"+turn.Thread.ID+":msg:"+turn.ClientMessageID)
	if err != nil {
		logger.Warn("[chat] seen set unavailable", zap.Error(err))
		return true
	}
	if !first {
		logger.Info("[chat] duplicate user message skipped", zap.String("client_message_id", turn.ClientMessageID))
	}
	return first
}

// Stream consumes the upstream body and drives out to completion. It
// returns a *StreamError for an upstream "error" event, or the read/write
// error that aborted the turn. In every case out has been terminated.
func (b *Bridge) Stream(ctx context.Context, body io.Reader, out uistream.Stream, turn *Turn) (Outcome, error) {
	logger := b.logger.With(zap.String("owner_id", turn.OwnerID))
	if turn.Thread != nil {
		logger = logger.With(zap.String("thread_id", turn.Thread.ID))
	}

	state, err := b.consume(ctx, body, out, logger)
	if err != nil {
		var streamErr *StreamError
		switch {
		case errors.As(err, &streamErr):
			logger.Warn("[chat] upstream reported an error", zap.String("error", streamErr.Message))
			_ = out.Fail(streamErr.Message)
		case ctx.Err() != nil:
			logger.Info("[chat] turn canceled", zap.Error(ctx.Err()))
			_ = out.Fail(InterruptedText)
		default:
			logger.Warn("[chat] stream aborted", zap.Error(err))
			_ = out.Fail(InterruptedText)
		}
		return Outcome{}, err
	}

	outcome, err := b.complete(ctx, state, out, turn)
	if err != nil {
		logger.Warn("[chat] writing final artifacts failed", zap.Error(err))
		_ = out.Fail(InterruptedText)
		return outcome, err
	}

	// The client gets finish before the store is written; persistence
	// outlives the request anyway.
	finishErr := out.Finish()
	b.persistReply(ctx, turn, outcome, state.Done, logger)
	return outcome, finishErr
}

// consume is the read loop: chunks -> frames -> events -> reducer.
func (b *Bridge) consume(ctx context.Context, body io.Reader, out uistream.Sink, logger *zap.Logger) (State, error) {
	var (
		frames sse.FrameBuffer
		state  State
	)
	buf := make([]byte, b.readSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range frames.Push(buf[:n]) {
				ev := sse.ParseFrame(frame)
				next, parts, err := state.Apply(ev)
				if ev.Kind == sse.KindDone && next.DoneEvents > 1 && next.DoneEvents != state.DoneEvents {
					logger.Warn("[chat] multiple done events; keeping the last one", zap.Int("count", next.DoneEvents))
				}
				state = next
				for _, p := range parts {
					if werr := out.Write(ctx, p); werr != nil {
						return state, werr
					}
				}
				if err != nil {
					return state, err
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return state, readErr
		}
	}
	if dropped := frames.Flush(); dropped != "" {
		logger.Debug("[chat] discarded incomplete trailing frame", zap.Int("bytes", len(dropped)))
	}
	return state, nil
}

// complete writes the end-of-stream parts: the reducer's closing parts,
// then either the enrichment of the terminal payload or, without one, the
// thread metadata alone.
func (b *Bridge) complete(ctx context.Context, state State, out uistream.Sink, turn *Turn) (Outcome, error) {
	streamed := state.TextStarted
	state, parts := state.Finish()

	var outcome Outcome
	if state.Done != nil {
		enriched := Enrich(state.Done, EnrichInput{
			TextStreamed:    streamed,
			InputText:       turn.InputText,
			RequestBundleID: turn.BundleID,
			Thread:          turn.Thread,
		})
		parts = append(parts, enriched.Parts...)
		outcome = Outcome{Summary: enriched.Summary, Title: enriched.Title, Enriched: true}
	} else {
		outcome = Outcome{Summary: state.Text, Fallback: !streamed}
		if turn.Thread != nil && turn.Thread.Created {
			outcome.Title = DeriveThreadTitle(nil, turn.InputText)
		}
		if part, ok := threadMetadata(turn.Thread, outcome.Title); ok {
			parts = append(parts, part)
		}
	}

	for _, p := range parts {
		if err := out.Write(ctx, p); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// persistReply stores the assistant message, titles a new thread and
// bumps its timestamp.
func (b *Bridge) persistReply(ctx context.Context, turn *Turn, outcome Outcome, done *TerminalPayload, logger *zap.Logger) {
	if b.store == nil || turn.Thread == nil {
		return
	}
	pctx, cancel := b.persistContext(ctx)
	defer cancel()

	err := b.store.AppendMessage(pctx, store.Message{
		ThreadID: turn.Thread.ID,
		Role:     store.RoleAssistant,
		Content:  outcome.Summary,
		Card:     done.Card(),
	})
	if err != nil {
		logger.Warn("[chat] store assistant message failed", zap.Error(err))
	}
	if turn.Thread.Created && outcome.Title != "" {
		if err := b.store.SetTitle(pctx, turn.Thread.ID, outcome.Title); err != nil {
			logger.Warn("[chat] set thread title failed", zap.Error(err))
		}
	}
	if err := b.store.TouchThread(pctx, turn.Thread.ID); err != nil {
		logger.Warn("[chat] touch thread failed", zap.Error(err))
	}
}

// persistContext detaches from request cancellation so a finished turn is
// still recorded, but bounds every call.
func (b *Bridge) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), b.persistTimeout)
}
