// Package capture owns the local audio capture lifecycle.
//
// A [Controller] moves through IDLE → ACQUIRING → PIPED → IDLE. While PIPED,
// exactly one [Session] exists: it owns the acquired track, the realtime
// handoff, the framer, the fallback encoder and the recognition transport,
// and releases all of them together on [Controller.Stop].
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/meetcaption/internal/observe"
	"github.com/MrWong99/meetcaption/internal/reconcile"
	"github.com/MrWong99/meetcaption/pkg/audio"
	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

// ErrAlreadyRunning is returned by [Controller.Start] when a capture session
// is being acquired or is already piped.
var ErrAlreadyRunning = errors.New("capture: already running")

// Operator-facing status strings.
const (
	StatusCapturing      = "Capturing audio"
	StatusCaptureFailed  = "Audio capture failed: "
	StatusConnectFailed  = "Transcription connection failed: "
	StatusTranscriptDone = "Transcription stopped"
)

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle means no capture session exists.
	StateIdle State = iota

	// StateAcquiring means a start request is acquiring the audio source and
	// connecting the transport.
	StateAcquiring

	// StatePiped means captured audio flows to the transport.
	StatePiped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAcquiring:
		return "ACQUIRING"
	case StatePiped:
		return "PIPED"
	default:
		return "UNKNOWN"
	}
}

// Sink receives everything a capture session produces for the operator.
// Methods are called from session goroutines and must not block for long.
type Sink interface {
	// Transcript receives every reconciled utterance, interim and final, in
	// arrival order.
	Transcript(rec reconcile.UtteranceRecord)

	// Status receives short human-readable state changes.
	Status(text string)
}

// StartRequest carries the parameters of one start request.
type StartRequest struct {
	// StreamID identifies the audio source to acquire. Empty selects the
	// default input device.
	StreamID string

	// APIKey is the recognition credential for this session. Empty lets the
	// transport use its configured key.
	APIKey string
}

// Config holds the dependencies of a [Controller].
type Config struct {
	// Capturer acquires audio tracks. Required.
	Capturer audio.Capturer

	// Transport opens recognition sessions. Required.
	Transport stt.Provider

	// Sink receives transcripts and status updates. Required.
	Sink Sink

	// Monitor enables the local playback tap.
	Monitor bool

	// HandoffDepth bounds the realtime handoff queue. Zero uses
	// [audio.DefaultHandoffDepth].
	HandoffDepth int

	// Metrics records lifecycle metrics. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller runs at most one capture session at a time.
// All exported methods are safe for concurrent use.
type Controller struct {
	capturer     audio.Capturer
	transport    stt.Provider
	sink         Sink
	monitor      bool
	handoffDepth int
	metrics      *observe.Metrics

	mu            sync.Mutex
	state         State
	sess          *Session
	cancelAcquire context.CancelFunc
	stopRequested bool
}

// NewController validates cfg and returns an idle [Controller].
func NewController(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Capturer == nil {
		errs = append(errs, errors.New("capturer is required"))
	}
	if cfg.Transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	if cfg.Sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Controller{
		capturer:     cfg.Capturer,
		transport:    cfg.Transport,
		sink:         cfg.Sink,
		monitor:      cfg.Monitor,
		handoffDepth: cfg.HandoffDepth,
		metrics:      cfg.Metrics,
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, or nil when not piped.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// SetMonitor changes whether future sessions enable the playback tap.
func (c *Controller) SetMonitor(on bool) {
	c.mu.Lock()
	c.monitor = on
	c.mu.Unlock()
}

// Start acquires the audio source, connects the transport and begins piping
// audio. Acquisition and connection failures are reported to the sink as a
// status, return the controller to IDLE, and are not retried.
//
// The session outlives ctx: ctx only bounds acquisition and connection.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, st)
	}
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.state = StateAcquiring
	c.cancelAcquire = cancel
	c.stopRequested = false
	monitor := c.monitor
	c.mu.Unlock()

	actx, span := observe.StartSpan(actx, "capture.start")
	defer span.End()

	begin := time.Now()
	sess, outcome, err := c.open(actx, req, monitor)
	span.SetAttributes(observe.Attr("outcome", outcome))

	c.mu.Lock()
	c.cancelAcquire = nil
	if err == nil && c.stopRequested {
		outcome, err = "cancelled", errors.New("capture: stopped while acquiring")
		c.mu.Unlock()
		sess.release()
		c.mu.Lock()
	}
	if err != nil {
		c.state = StateIdle
		c.mu.Unlock()
		c.metrics.RecordCaptureStart(ctx, outcome)
		return err
	}
	c.state = StatePiped
	c.sess = sess
	c.mu.Unlock()

	c.metrics.RecordCaptureStart(ctx, outcome)
	c.metrics.CaptureStartDuration.Record(ctx, time.Since(begin).Seconds())
	c.metrics.ActiveSessions.Add(ctx, 1)
	c.sink.Status(StatusCapturing)
	slog.Info("capture started",
		"session_id", sess.ID,
		"stream_id", req.StreamID,
		"format", sess.format.String(),
		"encoding", string(sess.transport.Encoding()),
		"monitor", monitor,
	)
	return nil
}

// open builds a fully running session or releases whatever it acquired.
func (c *Controller) open(ctx context.Context, req StartRequest, monitor bool) (*Session, string, error) {
	track, err := c.capturer.Acquire(ctx, req.StreamID)
	if err != nil {
		c.sink.Status(StatusCaptureFailed + err.Error())
		return nil, "acquire_failed", fmt.Errorf("capture: acquire: %w", err)
	}

	sess := newSession(req.StreamID, track, c.sink, c.metrics, c.handoffDepth)

	transport, err := c.transport.Connect(ctx, stt.StreamConfig{
		APIKey:   req.APIKey,
		OnStatus: c.sink.Status,
	})
	if err != nil {
		sess.release()
		c.sink.Status(StatusConnectFailed + err.Error())
		return nil, "connect_failed", fmt.Errorf("capture: connect transport: %w", err)
	}
	sess.transport = transport

	if err := sess.start(monitor); err != nil {
		sess.release()
		c.sink.Status(StatusCaptureFailed + err.Error())
		return nil, "acquire_failed", fmt.Errorf("capture: start track: %w", err)
	}
	return sess, "ok", nil
}

// Stop releases the active session. It is idempotent and safe to call from
// any state. In IDLE it does nothing. In ACQUIRING it aborts the pending
// start. In PIPED it tears the session down and returns to IDLE once every
// resource is released; Start keeps failing with [ErrAlreadyRunning] until
// then.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch c.state {
	case StateAcquiring:
		c.stopRequested = true
		if c.cancelAcquire != nil {
			c.cancelAcquire()
		}
		c.mu.Unlock()
		return
	case StatePiped:
		if c.sess == nil {
			// Another Stop is already releasing the session.
			c.mu.Unlock()
			return
		}
	default:
		c.mu.Unlock()
		return
	}
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	sess.release()

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("capture stopped", "session_id", sess.ID, "duration", time.Since(sess.Started))
}
