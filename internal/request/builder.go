package request

import "github.com/satriahrh/arunika/streamer/domain/repositories"

// Defaults applied to a handshake when the stream config leaves them empty
const (
	DefaultLanguageCode    = "id-ID"
	DefaultSampleRateHertz = 16000
	DefaultEncoding        = "LINEAR16"
)

// BuildInitialRequest builds the handshake sent as the first message of every stream
func BuildInitialRequest(config repositories.StreamConfig, sessionID string) *repositories.StreamRequest {
	handshake := &repositories.Handshake{
		SessionID:       sessionID,
		ProjectID:       config.ProjectID,
		LanguageCode:    config.LanguageCode,
		SampleRateHertz: config.SampleRateHertz,
		Encoding:        config.Encoding,
		Model:           config.Model,
		SingleUtterance: config.SingleUtterance,
		InterimResults:  config.InterimResults,
	}
	if len(config.PhraseHints) > 0 {
		handshake.PhraseHints = append([]string(nil), config.PhraseHints...)
	}

	if handshake.LanguageCode == "" {
		handshake.LanguageCode = DefaultLanguageCode
	}
	if handshake.SampleRateHertz <= 0 {
		handshake.SampleRateHertz = DefaultSampleRateHertz
	}
	if handshake.Encoding == "" {
		handshake.Encoding = DefaultEncoding
	}

	return &repositories.StreamRequest{Handshake: handshake}
}
