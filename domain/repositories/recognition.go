package repositories

import "context"

// ClientOptions carries what a backend needs to construct a recognition client
type ClientOptions struct {
	ProjectID      string
	CredentialPath string
}

// ClientFactory abstracts construction of a recognition backend client
type ClientFactory interface {
	NewClient(ctx context.Context, opts ClientOptions) (RecognitionClient, error)
}

// ClientFactoryFunc adapts a plain function to ClientFactory
type ClientFactoryFunc func(ctx context.Context, opts ClientOptions) (RecognitionClient, error)

// NewClient implements ClientFactory
func (f ClientFactoryFunc) NewClient(ctx context.Context, opts ClientOptions) (RecognitionClient, error) {
	return f(ctx, opts)
}

// RecognitionClient opens duplex recognition streams. One client may open many streams.
type RecognitionClient interface {
	OpenStream(ctx context.Context) (DuplexStream, error)
	Close() error
}

// DuplexStream is a bidirectional audio recognition channel.
// Recv returns io.EOF once the backend has finished the stream.
type DuplexStream interface {
	Send(req *StreamRequest) error
	Recv() (*StreamResponse, error)
	CloseSend() error
}

// RequestBuilder produces the handshake message for a new stream
type RequestBuilder func(config StreamConfig, sessionID string) *StreamRequest

// StreamConfig is the connection configuration passed to a session start
type StreamConfig struct {
	ProjectID       string   `json:"project_id"`
	LanguageCode    string   `json:"language_code"`
	SampleRateHertz int32    `json:"sample_rate_hertz"`
	Encoding        string   `json:"encoding"`
	Model           string   `json:"model,omitempty"`
	PhraseHints     []string `json:"phrase_hints,omitempty"`
	SingleUtterance bool     `json:"single_utterance"`
	InterimResults  bool     `json:"interim_results"`
}

// StreamRequest is an outbound message. Exactly one of Handshake or InputAudio is set.
type StreamRequest struct {
	Handshake  *Handshake
	InputAudio []byte
}

// Handshake carries the session metadata sent before any audio
type Handshake struct {
	SessionID       string
	ProjectID       string
	LanguageCode    string
	SampleRateHertz int32
	Encoding        string
	Model           string
	PhraseHints     []string
	SingleUtterance bool
	InterimResults  bool
}

// StreamResponse is an inbound recognition event
type StreamResponse struct {
	ResponseID        string             `json:"response_id,omitempty"`
	RecognitionResult *RecognitionResult `json:"recognition_result,omitempty"`
	QueryResult       *QueryResult       `json:"query_result,omitempty"`
}

// RecognitionResult is the speech recognition part of an event
type RecognitionResult struct {
	MessageType  string  `json:"message_type"`
	Transcript   string  `json:"transcript"`
	IsFinal      bool    `json:"is_final"`
	Confidence   float32 `json:"confidence,omitempty"`
	LanguageCode string  `json:"language_code,omitempty"`
}

// QueryResult is the intent detection part of an event, when the backend provides one
type QueryResult struct {
	QueryText       string  `json:"query_text"`
	Action          string  `json:"action,omitempty"`
	IntentName      string  `json:"intent_name,omitempty"`
	FulfillmentText string  `json:"fulfillment_text,omitempty"`
	Confidence      float32 `json:"confidence,omitempty"`
	LanguageCode    string  `json:"language_code,omitempty"`
}

// IsFinal reports whether the event carries a final recognition result
func (r *StreamResponse) IsFinal() bool {
	return r != nil && r.RecognitionResult != nil && r.RecognitionResult.IsFinal
}
