// Package device adapts a browser-side microphone and MediaRecorder, driven
// over a websocket, to the capture package's Microphone and Encoder.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

// DefaultFinalizeTimeout bounds how long Stop waits for the browser to
// flush its last chunk.
const DefaultFinalizeTimeout = 5 * time.Second

// ErrFinalizeTimeout is returned when the browser never confirms a flush.
var ErrFinalizeTimeout = errors.New("encoder did not flush in time")

// Remote is a microphone living in a connected browser. Until a transport is
// attached every Open fails with capture.ErrDeviceUnavailable.
type Remote struct {
	finalizeTimeout time.Duration
	logger          zerolog.Logger

	mu         sync.Mutex
	transport  Transport
	gone       chan struct{}
	permission chan bool
	encoder    *encoder
}

func NewRemote(finalizeTimeout time.Duration, logger zerolog.Logger) *Remote {
	if finalizeTimeout <= 0 {
		finalizeTimeout = DefaultFinalizeTimeout
	}
	return &Remote{
		finalizeTimeout: finalizeTimeout,
		logger:          logger.With().Str("component", "remote_device").Logger(),
	}
}

// Attach connects a browser. A second Attach replaces the first, which then
// behaves as disconnected. The returned func detaches this transport only.
func (r *Remote) Attach(t Transport) (detach func()) {
	gone := make(chan struct{})

	r.mu.Lock()
	if r.gone != nil {
		close(r.gone)
	}
	r.transport = t
	r.gone = gone
	r.encoder = nil
	r.permission = nil
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.gone != gone {
				return
			}
			close(r.gone)
			r.gone = nil
			r.transport = nil
			r.encoder = nil
			r.permission = nil
		})
	}
}

// Connected reports whether a browser is attached.
func (r *Remote) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport != nil
}

// Open asks the browser for the microphone and waits for the answer.
func (r *Remote) Open(ctx context.Context) (capture.DeviceStream, error) {
	r.mu.Lock()
	t, gone := r.transport, r.gone
	if t == nil {
		r.mu.Unlock()
		return nil, capture.ErrDeviceUnavailable
	}
	answer := make(chan bool, 1)
	r.permission = answer
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.permission == answer {
			r.permission = nil
		}
		r.mu.Unlock()
	}()

	id := uuid.NewString()
	if err := t.Send(Message{Type: MsgAcquire, StreamID: id}); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}

	select {
	case granted := <-answer:
		if !granted {
			return nil, capture.ErrPermissionDenied
		}
		return &stream{id: id, transport: t}, nil
	case <-gone:
		return nil, capture.ErrDeviceUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewEncoder prepares a MediaRecorder on the browser side.
func (r *Remote) NewEncoder(ds capture.DeviceStream, mimeType string) (capture.Encoder, error) {
	s, ok := ds.(*stream)
	if !ok {
		return nil, fmt.Errorf("stream %q does not belong to a remote device", ds.ID())
	}
	return &encoder{
		remote:    r,
		transport: s.transport,
		streamID:  s.id,
		requested: mimeType,
		flushed:   make(chan struct{}),
	}, nil
}

// HandlePermission delivers the browser's answer to a pending Open.
func (r *Remote) HandlePermission(granted bool) {
	r.mu.Lock()
	answer := r.permission
	r.permission = nil
	r.mu.Unlock()
	if answer == nil {
		r.logger.Debug().Bool("granted", granted).Msg("permission answer without pending request")
		return
	}
	answer <- granted
}

// HandleChunk feeds encoded audio to the active encoder. Chunks outside a
// recording are dropped.
func (r *Remote) HandleChunk(chunk []byte) {
	r.mu.Lock()
	e := r.encoder
	r.mu.Unlock()
	if e == nil {
		return
	}
	e.deliver(chunk)
}

// HandleFlushed marks the final chunk as delivered.
func (r *Remote) HandleFlushed(mimeType string) {
	r.mu.Lock()
	e := r.encoder
	r.mu.Unlock()
	if e == nil {
		return
	}
	e.finish(mimeType)
}

// Notify forwards a notice to the browser; it implements capture.Notifier.
func (r *Remote) Notify(n capture.Notice) {
	notice := n
	r.send(Message{Type: MsgNotice, Notice: &notice})
}

// PushProgress sends the latest state of one item.
func (r *Remote) PushProgress(item progress.ItemProgress) {
	r.send(Message{Type: MsgProgress, Item: &item})
}

func (r *Remote) send(msg Message) {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.Send(msg); err != nil {
		r.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("failed to push message")
	}
}

func (r *Remote) bind(e *encoder) {
	r.mu.Lock()
	r.encoder = e
	r.mu.Unlock()
}

func (r *Remote) unbind(e *encoder) {
	r.mu.Lock()
	if r.encoder == e {
		r.encoder = nil
	}
	r.mu.Unlock()
}

func (r *Remote) done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.gone
}

type stream struct {
	id        string
	transport Transport
	once      sync.Once
}

func (s *stream) ID() string { return s.id }

func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.transport.Send(Message{Type: MsgRelease, StreamID: s.id})
	})
	return err
}

type encoder struct {
	remote    *Remote
	transport Transport
	streamID  string
	requested string

	mu       sync.Mutex
	onChunk  func([]byte)
	produced string
	flushed  chan struct{}
	finished bool
}

func (e *encoder) Start(onChunk func([]byte)) error {
	e.mu.Lock()
	e.onChunk = onChunk
	e.mu.Unlock()

	e.remote.bind(e)
	if err := e.transport.Send(Message{Type: MsgRecord, StreamID: e.streamID, MimeType: e.requested}); err != nil {
		e.remote.unbind(e)
		return err
	}
	return nil
}

func (e *encoder) Stop(ctx context.Context) error {
	defer e.remote.unbind(e)

	if err := e.transport.Send(Message{Type: MsgFinalize, StreamID: e.streamID}); err != nil {
		return err
	}

	timer := time.NewTimer(e.remote.finalizeTimeout)
	defer timer.Stop()
	select {
	case <-e.flushed:
		return nil
	case <-timer.C:
		return ErrFinalizeTimeout
	case <-e.remote.done():
		return capture.ErrDeviceUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *encoder) Abort() {
	e.remote.unbind(e)
	_ = e.transport.Send(Message{Type: MsgAbort, StreamID: e.streamID})
}

func (e *encoder) MimeType() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.produced != "" {
		return e.produced
	}
	return e.requested
}

func (e *encoder) deliver(chunk []byte) {
	e.mu.Lock()
	onChunk := e.onChunk
	finished := e.finished
	e.mu.Unlock()
	if onChunk == nil || finished {
		return
	}
	onChunk(chunk)
}

func (e *encoder) finish(mimeType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return
	}
	e.finished = true
	e.produced = mimeType
	close(e.flushed)
}
