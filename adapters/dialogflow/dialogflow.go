package dialogflow

import (
	"context"
	"fmt"
	"strings"

	dialogflow "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
	"github.com/satriahrh/arunika/streamer/internal/credentials"
)

// ClientFactory creates Dialogflow sessions clients
type ClientFactory struct {
	logger *zap.Logger
}

// NewClientFactory creates a factory for Dialogflow backed recognition clients
func NewClientFactory(logger *zap.Logger) *ClientFactory {
	return &ClientFactory{logger: logger}
}

// NewClient implements repositories.ClientFactory
func (f *ClientFactory) NewClient(ctx context.Context, opts repositories.ClientOptions) (repositories.RecognitionClient, error) {
	var clientOpts []option.ClientOption
	if credentials.Exists(opts.CredentialPath) {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialPath))
	} else {
		f.logger.Warn("Credential file not found, falling back to application default credentials",
			zap.String("credentialPath", opts.CredentialPath))
	}

	sessions, err := dialogflow.NewSessionsClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialogflow sessions client: %w", err)
	}

	f.logger.Info("Dialogflow sessions client created", zap.String("projectID", opts.ProjectID))

	return &Client{
		sessions:  sessions,
		projectID: opts.ProjectID,
	}, nil
}

// Client opens StreamingDetectIntent streams
type Client struct {
	sessions  *dialogflow.SessionsClient
	projectID string
}

// OpenStream implements repositories.RecognitionClient
func (c *Client) OpenStream(ctx context.Context) (repositories.DuplexStream, error) {
	stream, err := c.sessions.StreamingDetectIntent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming detect intent: %w", err)
	}
	return &Stream{stream: stream, projectID: c.projectID}, nil
}

// Close implements repositories.RecognitionClient
func (c *Client) Close() error {
	return c.sessions.Close()
}

// Stream adapts a StreamingDetectIntent stream to repositories.DuplexStream
type Stream struct {
	stream    dialogflowpb.Sessions_StreamingDetectIntentClient
	projectID string
}

// Send implements repositories.DuplexStream
func (s *Stream) Send(req *repositories.StreamRequest) error {
	pb, err := toProto(req, s.projectID)
	if err != nil {
		return err
	}
	return s.stream.Send(pb)
}

// Recv implements repositories.DuplexStream
func (s *Stream) Recv() (*repositories.StreamResponse, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return fromProto(resp), nil
}

// CloseSend implements repositories.DuplexStream
func (s *Stream) CloseSend() error {
	return s.stream.CloseSend()
}

// SessionPath returns the agent session resource name for a session
func SessionPath(projectID, sessionID string) string {
	return fmt.Sprintf("projects/%s/agent/sessions/%s", projectID, sessionID)
}

func toProto(req *repositories.StreamRequest, defaultProjectID string) (*dialogflowpb.StreamingDetectIntentRequest, error) {
	if req.Handshake == nil {
		return &dialogflowpb.StreamingDetectIntentRequest{InputAudio: req.InputAudio}, nil
	}

	h := req.Handshake
	encoding, err := audioEncoding(h.Encoding)
	if err != nil {
		return nil, err
	}

	projectID := h.ProjectID
	if projectID == "" {
		projectID = defaultProjectID
	}

	return &dialogflowpb.StreamingDetectIntentRequest{
		Session: SessionPath(projectID, h.SessionID),
		QueryInput: &dialogflowpb.QueryInput{
			Input: &dialogflowpb.QueryInput_AudioConfig{
				AudioConfig: &dialogflowpb.InputAudioConfig{
					AudioEncoding:   encoding,
					SampleRateHertz: h.SampleRateHertz,
					LanguageCode:    h.LanguageCode,
					Model:           h.Model,
					PhraseHints:     h.PhraseHints,
					SingleUtterance: h.SingleUtterance,
				},
			},
		},
	}, nil
}

func fromProto(resp *dialogflowpb.StreamingDetectIntentResponse) *repositories.StreamResponse {
	out := &repositories.StreamResponse{ResponseID: resp.GetResponseId()}

	if rr := resp.GetRecognitionResult(); rr != nil {
		out.RecognitionResult = &repositories.RecognitionResult{
			MessageType:  rr.GetMessageType().String(),
			Transcript:   rr.GetTranscript(),
			IsFinal:      rr.GetIsFinal(),
			Confidence:   rr.GetConfidence(),
			LanguageCode: rr.GetLanguageCode(),
		}
	}

	if qr := resp.GetQueryResult(); qr != nil {
		out.QueryResult = &repositories.QueryResult{
			QueryText:       qr.GetQueryText(),
			Action:          qr.GetAction(),
			IntentName:      qr.GetIntent().GetDisplayName(),
			FulfillmentText: qr.GetFulfillmentText(),
			Confidence:      qr.GetIntentDetectionConfidence(),
			LanguageCode:    qr.GetLanguageCode(),
		}
	}

	return out
}

// audioEncoding converts string encoding to the Dialogflow enum
func audioEncoding(encoding string) (dialogflowpb.AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "PCM", "LINEAR16":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_LINEAR_16, nil
	case "FLAC":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_FLAC, nil
	case "MULAW":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_MULAW, nil
	case "AMR":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_AMR, nil
	case "AMR_WB":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_AMR_WB, nil
	case "OGG_OPUS":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_SPEEX_WITH_HEADER_BYTE, nil
	default:
		return dialogflowpb.AudioEncoding_AUDIO_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
