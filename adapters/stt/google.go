package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
	"github.com/satriahrh/arunika/streamer/internal/credentials"
)

// GoogleSpeechToText creates Google Cloud Speech clients
type GoogleSpeechToText struct {
	logger *zap.Logger
}

// NewGoogleSpeechToText creates a factory for Cloud Speech backed recognition clients
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{logger: logger}
}

// NewClient implements repositories.ClientFactory
func (g *GoogleSpeechToText) NewClient(ctx context.Context, opts repositories.ClientOptions) (repositories.RecognitionClient, error) {
	var clientOpts []option.ClientOption
	if credentials.Exists(opts.CredentialPath) {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialPath))
	} else {
		g.logger.Warn("Credential file not found, falling back to application default credentials",
			zap.String("credentialPath", opts.CredentialPath))
	}

	// Create Google Cloud Speech client
	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &GoogleSpeechClient{client: client}, nil
}

// GoogleSpeechClient opens StreamingRecognize streams
type GoogleSpeechClient struct {
	client *speech.Client
}

// OpenStream implements repositories.RecognitionClient
func (c *GoogleSpeechClient) OpenStream(ctx context.Context) (repositories.DuplexStream, error) {
	stream, err := c.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}
	return &GoogleSpeechToTextStream{stream: stream}, nil
}

// Close implements repositories.RecognitionClient
func (c *GoogleSpeechClient) Close() error {
	return c.client.Close()
}

// GoogleSpeechToTextStream adapts a StreamingRecognize stream to repositories.DuplexStream
type GoogleSpeechToTextStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

// Send implements repositories.DuplexStream
func (g *GoogleSpeechToTextStream) Send(req *repositories.StreamRequest) error {
	pb, err := toProto(req)
	if err != nil {
		return err
	}
	return g.stream.Send(pb)
}

// Recv implements repositories.DuplexStream
func (g *GoogleSpeechToTextStream) Recv() (*repositories.StreamResponse, error) {
	resp, err := g.stream.Recv()
	if err != nil {
		return nil, err
	}
	if st := resp.GetError(); st != nil && codes.Code(st.GetCode()) != codes.OK {
		return nil, status.ErrorProto(st)
	}
	return fromProto(resp), nil
}

// CloseSend implements repositories.DuplexStream
func (g *GoogleSpeechToTextStream) CloseSend() error {
	return g.stream.CloseSend()
}

func toProto(req *repositories.StreamRequest) (*speechpb.StreamingRecognizeRequest, error) {
	if req.Handshake == nil {
		return &speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: req.InputAudio,
			},
		}, nil
	}

	h := req.Handshake
	encoding, err := getAudioEncoding(h.Encoding)
	if err != nil {
		return nil, err
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:        encoding,
		SampleRateHertz: h.SampleRateHertz,
		LanguageCode:    h.LanguageCode,
		Model:           h.Model,
	}
	if len(h.PhraseHints) > 0 {
		recognitionConfig.SpeechContexts = []*speechpb.SpeechContext{{Phrases: h.PhraseHints}}
	}

	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig,
				InterimResults:  h.InterimResults,
				SingleUtterance: h.SingleUtterance,
			},
		},
	}, nil
}

// fromProto keeps the first result and its best alternative
func fromProto(resp *speechpb.StreamingRecognizeResponse) *repositories.StreamResponse {
	out := &repositories.StreamResponse{}

	if resp.GetSpeechEventType() == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
		out.RecognitionResult = &repositories.RecognitionResult{
			MessageType: "END_OF_SINGLE_UTTERANCE",
		}
		return out
	}

	results := resp.GetResults()
	if len(results) == 0 {
		return out
	}

	result := results[0]
	rr := &repositories.RecognitionResult{
		MessageType:  "TRANSCRIPT",
		IsFinal:      result.GetIsFinal(),
		LanguageCode: result.GetLanguageCode(),
	}
	if alternatives := result.GetAlternatives(); len(alternatives) > 0 {
		rr.Transcript = alternatives[0].GetTranscript()
		rr.Confidence = alternatives[0].GetConfidence()
	}
	out.RecognitionResult = rr

	return out
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "PCM", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
