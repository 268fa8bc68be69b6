package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

var (
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

const (
	// readLimit bounds a single inbound message. Results with word-level
	// detail for long utterances exceed the library default of 32 KiB.
	readLimit    = 1 << 20
	closeTimeout = 2 * time.Second
	msgBuffer    = 64

	// sendQueue bounds the chunks waiting for the write loop: 5 s of
	// 100 ms chunks. A full queue drops the chunk.
	sendQueue = 50

	statusFallback = "Connection lost, retrying with Opus/WebM encoding"
	statusClosed   = "Transcription connection closed"
)

var errSessionClosed = errors.New("deepgram: session is closed")

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
//
// Connection state lives behind mu. Each established connection owns a
// child context that scopes its keep-alive, read and write goroutines, so
// closing a connection for any reason stops its keep-alive. Audio reaches the
// socket only through the connection's write loop; SendAudio never blocks.
type session struct {
	p        *Provider
	apiKey   string
	onStatus func(string)
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        stt.State
	encoding     stt.Encoding
	conn         *websocket.Conn
	connCancel   context.CancelFunc
	audio        chan []byte
	writeDone    chan struct{}
	fallbackUsed bool
	closed       bool
	err          error

	msgs      chan stt.Message
	msgsOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

func newSession(p *Provider, key string, onStatus func(string)) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		p:        p,
		apiKey:   key,
		onStatus: onStatus,
		log:      slog.Default().With("provider", "deepgram"),
		ctx:      ctx,
		cancel:   cancel,
		state:    stt.StateClosed,
		encoding: stt.EncodingPCM,
		msgs:     make(chan stt.Message, msgBuffer),
	}
}

// State implements stt.SessionHandle.
func (s *session) State() stt.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Encoding implements stt.SessionHandle.
func (s *session) Encoding() stt.Encoding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoding
}

// Messages implements stt.SessionHandle.
func (s *session) Messages() <-chan stt.Message { return s.msgs }

// SendAudio queues one chunk for the current connection's write loop.
// Chunks are dropped, never buffered beyond the send queue, unless the
// session is open.
func (s *session) SendAudio(chunk []byte) bool {
	s.mu.Lock()
	state := s.state
	if s.audio == nil || !state.Accepting() {
		s.mu.Unlock()
		s.p.inst.chunksDropped.Add(s.ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
		return false
	}
	// Sent under mu so Close and dropConnLocked can close the queue safely.
	select {
	case s.audio <- chunk:
		s.mu.Unlock()
		return true
	default:
		s.mu.Unlock()
		s.p.inst.chunksDropped.Add(s.ctx, 1, metric.WithAttributes(attribute.String("state", "queue_full")))
		return false
	}
}

// Close terminates the session cleanly. It never triggers the fallback.
// Queued audio and CloseStream get closeTimeout to reach a backend that has
// stopped reading; after that the socket is torn down regardless.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.conn = nil
		audio, writeDone := s.audio, s.writeDone
		s.audio = nil
		s.state = stt.StateClosed
		s.mu.Unlock()

		flushed := false
		if audio != nil {
			// The write loop drains the queue, then asks Deepgram to flush.
			close(audio)
			select {
			case <-writeDone:
				flushed = true
			case <-time.After(closeTimeout):
				s.log.Warn("deepgram: backend not reading, abandoning queued audio")
			}
		}
		// Cancels every connection context, stopping keep-alive, reads and writes.
		s.cancel()
		if conn != nil {
			if flushed {
				_ = conn.Close(websocket.StatusNormalClosure, "session closed")
			} else {
				_ = conn.CloseNow()
			}
		}
		s.wg.Wait()
		s.closeMessages()
	})
	return nil
}

// dial establishes a connection in the given encoding and starts its
// keep-alive and read goroutines.
func (s *session) dial(ctx context.Context, enc stt.Encoding) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.state = stt.StateConnecting
	s.encoding = enc
	s.mu.Unlock()

	wsURL, err := s.p.buildURL(enc)
	if err != nil {
		return fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: s.p.headers(s.apiKey),
	})
	if err != nil {
		return fmt.Errorf("deepgram: dial %s: %w", enc, err)
	}
	conn.SetReadLimit(readLimit)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.CloseNow()
		return errSessionClosed
	}
	connCtx, connCancel := context.WithCancel(s.ctx)
	audio := make(chan []byte, sendQueue)
	writeDone := make(chan struct{})
	s.conn = conn
	s.connCancel = connCancel
	s.audio = audio
	s.writeDone = writeDone
	if enc == stt.EncodingOpus {
		s.state = stt.StateFallbackOpen
	} else {
		s.state = stt.StateOpen
	}
	s.wg.Add(3)
	s.mu.Unlock()

	s.log.Info("deepgram: connected", "encoding", string(enc))
	go s.keepAliveLoop(connCtx, conn)
	go s.readLoop(connCtx, conn)
	go s.writeLoop(connCtx, conn, enc, audio, writeDone)
	return nil
}

// handleClose reacts to the loss of conn. A nil conn stands for a dial that
// never produced a connection. Closes of stale connections and closes after
// Close are ignored.
func (s *session) handleClose(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.dropConnLocked()
	enc := s.encoding
	if enc == stt.EncodingPCM && !s.fallbackUsed {
		s.fallbackUsed = true
		s.state = stt.StateConnecting
		s.mu.Unlock()

		s.log.Warn("deepgram: primary connection closed, falling back to opus/webm", "err", cause)
		s.p.inst.fallbacks.Add(s.ctx, 1)
		s.status(statusFallback)
		if err := s.dial(s.ctx, stt.EncodingOpus); err != nil {
			s.terminate(err)
		}
		return
	}
	s.mu.Unlock()
	s.terminate(cause)
}

// terminate moves the session to its terminal state and reports it.
func (s *session) terminate(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.dropConnLocked()
	s.state = stt.StateClosed
	s.err = cause
	enc := s.encoding
	s.mu.Unlock()

	s.log.Warn("deepgram: connection closed", "encoding", string(enc), "err", cause)
	s.p.inst.closes.Add(s.ctx, 1, metric.WithAttributes(attribute.String("encoding", string(enc))))
	s.status(statusClosed)
	s.closeMessages()
}

// dropConnLocked cancels the current connection's goroutines and discards
// its send queue. s.mu must be held.
func (s *session) dropConnLocked() {
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	if s.audio != nil {
		close(s.audio)
		s.audio = nil
	}
	if s.conn != nil {
		_ = s.conn.CloseNow()
		s.conn = nil
	}
}

func (s *session) cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return errSessionClosed
	}
	return s.err
}

func (s *session) closeMessages() {
	s.msgsOnce.Do(func() { close(s.msgs) })
}

func (s *session) status(text string) {
	if s.onStatus != nil {
		s.onStatus(text)
	}
}

// keepAliveLoop sends a KeepAlive message every interval until ctx is
// cancelled.
func (s *session) keepAliveLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.p.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, keepAliveMsg); err != nil {
				s.log.Debug("deepgram: keepalive write failed", "err", err)
				return
			}
		}
	}
}

// writeLoop sends queued chunks as binary frames until the queue is closed
// or ctx is cancelled. A queue closed by Close (ctx still live) is followed
// by CloseStream so Deepgram flushes its final results.
func (s *session) writeLoop(ctx context.Context, conn *websocket.Conn, enc stt.Encoding, audio <-chan []byte, done chan<- struct{}) {
	defer s.wg.Done()
	defer close(done)
	sent := metric.WithAttributes(attribute.String("encoding", string(enc)))

	for chunk := range audio {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			if ctx.Err() == nil {
				s.log.Debug("deepgram: send audio failed", "err", err)
				// Unblocks readLoop, which reports the close.
				_ = conn.CloseNow()
			}
			s.p.inst.chunksDropped.Add(s.ctx, 1, metric.WithAttributes(attribute.String("state", "write_failed")))
			return
		}
		s.p.inst.chunksSent.Add(s.ctx, 1, sent)
	}
	if ctx.Err() != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, closeStreamMsg)
}

// readLoop receives JSON messages from Deepgram and forwards them in arrival
// order. Malformed payloads are logged and dropped.
func (s *session) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.handleClose(conn, err)
			return
		}

		msg := stt.ParseMessage(data)
		switch m := msg.(type) {
		case *stt.Malformed:
			s.log.Debug("deepgram: dropping malformed message", "err", m.Err, "bytes", len(m.Raw))
			continue
		case *stt.ErrorMessage:
			s.log.Warn("deepgram: error message", "type", m.Kind, "text", m.Text())
			s.p.inst.errors.Add(s.ctx, 1, metric.WithAttributes(attribute.String("type", m.Kind)))
			s.status("Transcription error: " + m.Text())
		}

		select {
		case s.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}
