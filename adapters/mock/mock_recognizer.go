package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
)

// DefaultFinalAfterBytes is how much audio a single-utterance stream takes before it finalizes
const DefaultFinalAfterBytes = 32000

// ErrStreamClosed is returned by Send after CloseSend
var ErrStreamClosed = errors.New("mock stream closed for sending")

// MockRecognizer is an in-process recognition backend. It answers every
// audio chunk with an interim transcript and finalizes once enough audio
// has arrived in single-utterance mode, or when the sender half-closes.
type MockRecognizer struct {
	logger          *zap.Logger
	finalAfterBytes int
}

// NewMockRecognizer creates a mock backend
func NewMockRecognizer(logger *zap.Logger, finalAfterBytes int) *MockRecognizer {
	if finalAfterBytes <= 0 {
		finalAfterBytes = DefaultFinalAfterBytes
	}
	return &MockRecognizer{
		logger:          logger,
		finalAfterBytes: finalAfterBytes,
	}
}

// NewClient implements repositories.ClientFactory
func (m *MockRecognizer) NewClient(ctx context.Context, opts repositories.ClientOptions) (repositories.RecognitionClient, error) {
	m.logger.Info("Creating mock recognition client",
		zap.String("projectID", opts.ProjectID),
		zap.String("credentialPath", opts.CredentialPath))
	return m, nil
}

// OpenStream implements repositories.RecognitionClient
func (m *MockRecognizer) OpenStream(ctx context.Context) (repositories.DuplexStream, error) {
	return &MockStream{
		ctx:             ctx,
		logger:          m.logger,
		finalAfterBytes: m.finalAfterBytes,
		ready:           make(chan struct{}, 1),
	}, nil
}

// Close implements repositories.RecognitionClient
func (m *MockRecognizer) Close() error {
	return nil
}

// MockStream is a scripted duplex stream
type MockStream struct {
	ctx             context.Context
	logger          *zap.Logger
	finalAfterBytes int

	mu            sync.Mutex
	queue         []*repositories.StreamResponse
	ready         chan struct{}
	handshake     *repositories.Handshake
	received      int
	transcription string
	finalized     bool
	sendClosed    bool
}

// Send implements repositories.DuplexStream
func (m *MockStream) Send(req *repositories.StreamRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendClosed {
		return ErrStreamClosed
	}

	if req.Handshake != nil {
		m.handshake = req.Handshake
		m.logger.Info("Mock stream handshake",
			zap.String("sessionID", req.Handshake.SessionID),
			zap.Int32("sampleRate", req.Handshake.SampleRateHertz),
			zap.String("encoding", req.Handshake.Encoding),
			zap.String("language", req.Handshake.LanguageCode))
		return nil
	}

	if m.finalized || len(req.InputAudio) == 0 {
		return nil
	}

	m.received += len(req.InputAudio)
	m.transcription = transcriptionFor(m.received)

	if m.handshake != nil && m.handshake.SingleUtterance && m.received >= m.finalAfterBytes {
		m.finalizeLocked()
		return nil
	}

	m.pushLocked(&repositories.StreamResponse{
		ResponseID: uuid.NewString(),
		RecognitionResult: &repositories.RecognitionResult{
			MessageType: "TRANSCRIPT",
			Transcript:  m.transcription,
		},
	})
	return nil
}

// Recv implements repositories.DuplexStream
func (m *MockStream) Recv() (*repositories.StreamResponse, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			resp := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return resp, nil
		}
		done := m.finalized && m.sendClosed
		m.mu.Unlock()

		if done {
			return nil, io.EOF
		}

		select {
		case <-m.ready:
		case <-m.ctx.Done():
			return nil, m.ctx.Err()
		}
	}
}

// CloseSend implements repositories.DuplexStream
func (m *MockStream) CloseSend() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendClosed {
		return nil
	}
	m.sendClosed = true
	if !m.finalized {
		m.finalizeLocked()
	}
	m.notifyLocked()
	return nil
}

func (m *MockStream) finalizeLocked() {
	m.finalized = true
	languageCode := ""
	if m.handshake != nil {
		languageCode = m.handshake.LanguageCode
	}

	m.logger.Info("Mock stream finalized",
		zap.Int("bytes", m.received),
		zap.String("result", m.transcription))

	m.pushLocked(&repositories.StreamResponse{
		ResponseID: uuid.NewString(),
		RecognitionResult: &repositories.RecognitionResult{
			MessageType:  "TRANSCRIPT",
			Transcript:   m.transcription,
			IsFinal:      true,
			Confidence:   0.9,
			LanguageCode: languageCode,
		},
	})
}

func (m *MockStream) pushLocked(resp *repositories.StreamResponse) {
	m.queue = append(m.queue, resp)
	m.notifyLocked()
}

func (m *MockStream) notifyLocked() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// transcriptionFor mocks different responses based on cumulative audio size
func transcriptionFor(size int) string {
	switch {
	case size > 10000:
		return "Halo Arunika, apa kabar? Saya ingin bercerita tentang hari ini."
	case size > 5000:
		return "Terima kasih sudah mendengarkan."
	case size > 1000:
		return "Halo Arunika!"
	default:
		return "Hai"
	}
}
