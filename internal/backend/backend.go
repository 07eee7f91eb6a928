package backend

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/streamer/adapters/dialogflow"
	"github.com/satriahrh/arunika/streamer/adapters/mock"
	"github.com/satriahrh/arunika/streamer/adapters/stt"
	"github.com/satriahrh/arunika/streamer/domain/repositories"
	"github.com/satriahrh/arunika/streamer/internal/config"
)

// New returns the client factory for the configured recognition backend
func New(cfg config.RecognizerConfig, logger *zap.Logger) (repositories.ClientFactory, error) {
	switch cfg.Backend {
	case config.BackendDialogflow:
		return dialogflow.NewClientFactory(logger.Named("dialogflow")), nil
	case config.BackendSpeech:
		return stt.NewGoogleSpeechToText(logger.Named("speech")), nil
	case config.BackendMock:
		return mock.NewMockRecognizer(logger.Named("mock"), cfg.MockFinalBytes), nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend: %s", cfg.Backend)
	}
}
