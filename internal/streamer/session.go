package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
	"github.com/satriahrh/arunika/streamer/internal/credentials"
	"github.com/satriahrh/arunika/streamer/internal/request"
)

// DefaultDebugFile is where raw audio is mirrored when debug mode is on.
// Relative to the process working directory and truncated on every Start.
const DefaultDebugFile = "debug.raw"

// ErrClosed is returned by Start once the session has been closed
var ErrClosed = errors.New("stream session is closed")

// State is the lifecycle state of a StreamSession
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handlers receive the events of the streams opened by a session.
// Either may be nil. They run on the stream's receive goroutine and may
// call Write, Stop and Start on the session, but not Wait.
type Handlers struct {
	OnMessage func(resp *repositories.StreamResponse)
	OnError   func(err error)
}

// Option configures a StreamSession
type Option func(*StreamSession)

// WithLogger sets the session logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *StreamSession) {
		s.logger = logger
	}
}

// WithRequestBuilder replaces the handshake builder
func WithRequestBuilder(builder repositories.RequestBuilder) Option {
	return func(s *StreamSession) {
		s.buildRequest = builder
	}
}

// WithCredentialResolver replaces the credential path lookup used when the client is created
func WithCredentialResolver(resolve func() string) Option {
	return func(s *StreamSession) {
		s.credentialPath = resolve
	}
}

// WithDebugFile overrides the debug recording destination
func WithDebugFile(path string) Option {
	return func(s *StreamSession) {
		s.debugFile = path
	}
}

// StreamSession owns one duplex recognition stream at a time plus an
// optional local recording of the audio written to it.
//
// A final recognition result stops the session on its own. A stopped
// session can be started again; the backend client created by the first
// Start is kept and reused until Close.
type StreamSession struct {
	sessionID string
	debug     bool
	debugFile string
	handlers  Handlers

	factory        repositories.ClientFactory
	buildRequest   repositories.RequestBuilder
	credentialPath func() string
	logger         *zap.Logger

	mu              sync.Mutex
	started         bool
	ended           bool
	closed          bool
	client          repositories.RecognitionClient
	clientProjectID string
	stream          repositories.DuplexStream
	debugSink       io.WriteCloser
	generation      uint64
	cancels         map[uint64]context.CancelFunc

	receivers sync.WaitGroup
}

// NewStreamSession creates an inactive session bound to sessionID
func NewStreamSession(factory repositories.ClientFactory, handlers Handlers, sessionID string, debug bool, opts ...Option) *StreamSession {
	s := &StreamSession{
		sessionID:      sessionID,
		debug:          debug,
		debugFile:      DefaultDebugFile,
		handlers:       handlers,
		factory:        factory,
		buildRequest:   request.BuildInitialRequest,
		credentialPath: credentials.ClientSecretPath,
		logger:         zap.NewNop(),
		ended:          true,
		cancels:        make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("sessionID", sessionID))
	return s
}

// ID returns the session identifier sent with every handshake
func (s *StreamSession) ID() string {
	return s.sessionID
}

// State reports where the session is in its lifecycle
func (s *StreamSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.started:
		return StateUninitialized
	case s.ended:
		return StateInactive
	default:
		return StateActive
	}
}

// Start opens a new duplex stream and sends the handshake for config.
// Starting an active session stops its current stream first.
func (s *StreamSession) Start(ctx context.Context, config repositories.StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.ended {
		s.stopLocked()
	}

	client, err := s.clientLocked(ctx, config)
	if err != nil {
		return err
	}

	// The stream lives until the backend ends it or the session is closed,
	// not as long as the caller's context.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := client.OpenStream(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open recognition stream: %w", err)
	}

	s.generation++
	gen := s.generation

	events := &emitter{}
	events.onError(s.handlers.OnError)
	events.onData(s.handlers.OnMessage)
	events.onData(func(resp *repositories.StreamResponse) {
		s.checkResult(gen, resp)
	})

	if err := stream.Send(s.buildRequest(config, s.sessionID)); err != nil {
		stream.CloseSend()
		cancel()
		return fmt.Errorf("failed to send initial stream request: %w", err)
	}

	// The stream runs without a recording when the debug file can't be created.
	var sink io.WriteCloser
	if s.debug {
		file, err := os.Create(s.debugFile)
		if err != nil {
			s.logger.Warn("Failed to create debug file, streaming without recording",
				zap.String("debugFile", s.debugFile),
				zap.Error(err))
		} else {
			sink = file
		}
	}

	s.stream = stream
	s.debugSink = sink
	s.ended = false
	s.started = true
	s.cancels[gen] = cancel

	if s.debug {
		s.logger.Debug("Audio streamer started",
			zap.String("projectID", config.ProjectID),
			zap.String("languageCode", config.LanguageCode),
			zap.Int32("sampleRate", config.SampleRateHertz),
			zap.String("encoding", config.Encoding),
			zap.String("debugFile", s.debugFile))
	}

	s.receivers.Add(1)
	go s.receive(streamCtx, gen, stream, events)

	return nil
}

// clientLocked returns the cached backend client, creating it on first use.
// The cached client keeps the project of the first Start.
func (s *StreamSession) clientLocked(ctx context.Context, config repositories.StreamConfig) (repositories.RecognitionClient, error) {
	if s.client != nil {
		if config.ProjectID != s.clientProjectID {
			s.logger.Warn("Reusing recognition client created for a different project",
				zap.String("clientProjectID", s.clientProjectID),
				zap.String("requestedProjectID", config.ProjectID))
		}
		return s.client, nil
	}

	client, err := s.factory.NewClient(ctx, repositories.ClientOptions{
		ProjectID:      config.ProjectID,
		CredentialPath: s.credentialPath(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create recognition client: %w", err)
	}

	s.client = client
	s.clientProjectID = config.ProjectID
	return client, nil
}

// Write forwards an audio chunk to the stream and, in debug mode, to the
// debug file. It does nothing once the session has stopped.
//
// The session lock is held across the send so it never races Stop's
// CloseSend. Write may therefore block while the backend applies flow control.
func (s *StreamSession) Write(audio []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}

	if s.stream != nil {
		// The receive loop reports the stream failure behind a send error.
		if err := s.stream.Send(&repositories.StreamRequest{InputAudio: audio}); err != nil {
			s.logger.Debug("Failed to send audio chunk",
				zap.Int("size", len(audio)),
				zap.Error(err))
		}
	}

	if s.debugSink != nil {
		if _, err := s.debugSink.Write(audio); err != nil {
			s.logger.Warn("Failed to write debug audio",
				zap.String("debugFile", s.debugFile),
				zap.Error(err))
		}
	}
}

// Stop ends the current stream and closes the debug file. Safe to call any number of times.
func (s *StreamSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
}

func (s *StreamSession) stopLocked() {
	s.ended = true

	if s.stream != nil {
		if err := s.stream.CloseSend(); err != nil {
			s.logger.Warn("Failed to close recognition stream", zap.Error(err))
		}
		s.stream = nil
	}

	if s.debugSink != nil {
		if err := s.debugSink.Close(); err != nil {
			s.logger.Warn("Failed to close debug file",
				zap.String("debugFile", s.debugFile),
				zap.Error(err))
		}
		s.debugSink = nil
	}

	if s.debug {
		s.logger.Debug("Audio streamer stopped")
	}
}

// checkResult stops the session when the stream that produced resp is
// still the current one and resp carries a final recognition result.
func (s *StreamSession) checkResult(gen uint64, resp *repositories.StreamResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.generation != gen {
		return
	}
	if !resp.IsFinal() {
		return
	}

	s.logger.Debug("Final recognition result received, stopping stream",
		zap.String("transcript", resp.RecognitionResult.Transcript))
	s.stopLocked()
}

func (s *StreamSession) receive(ctx context.Context, gen uint64, stream repositories.DuplexStream, events *emitter) {
	defer s.receivers.Done()
	defer s.release(gen)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			if !events.emitError(err) {
				s.logger.Error("Recognition stream failed", zap.Error(err))
			}
			return
		}
		events.emitData(resp)
	}
}

func (s *StreamSession) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[gen]; ok {
		cancel()
		delete(s.cancels, gen)
	}
}

// Wait blocks until every stream opened by the session has delivered its
// last event. Streams end once the backend closes them after Stop, or on Close.
func (s *StreamSession) Wait() {
	s.receivers.Wait()
}

// Close stops the session, abandons any stream still delivering events and
// closes the cached backend client. The session cannot be started again.
func (s *StreamSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopLocked()

	for gen, cancel := range s.cancels {
		cancel()
		delete(s.cancels, gen)
	}

	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("failed to close recognition client: %w", err)
	}
	return nil
}
