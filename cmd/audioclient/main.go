package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/streamer/internal/api"
	"github.com/satriahrh/arunika/streamer/internal/logging"
	wsmsg "github.com/satriahrh/arunika/streamer/internal/websocket"
)

var (
	serverURL    string
	serialNumber string
	secretKey    string
	audioFile    string
	sessionID    string
	sampleRate   int
	encoding     string
	language     string
	chunkSize    int
	interval     time.Duration
	timeout      time.Duration
	logLevel     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "audioclient",
	Short: "Device test client for the streaming gateway",
	Long: `Authenticates as a device, opens the WebSocket gateway, streams a raw
audio file as binary frames between listening_start and listening_end, and
logs every message the server sends back.`,
	Example: `  audioclient --server http://localhost:8080 --serial ARUNIKA001 --secret secret123 --file sample_audio.raw`,
	RunE:         runAudioClient,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server base URL")
	rootCmd.Flags().StringVar(&serialNumber, "serial", "ARUNIKA001", "Device serial number")
	rootCmd.Flags().StringVar(&secretKey, "secret", "secret123", "Device secret key")
	rootCmd.Flags().StringVarP(&audioFile, "file", "f", "sample_audio.raw", "Raw audio file to stream")
	rootCmd.Flags().StringVar(&sessionID, "session-id", "", "Session ID (default: assigned by the server)")
	rootCmd.Flags().IntVar(&sampleRate, "sample-rate", 16000, "Sample rate of the audio")
	rootCmd.Flags().StringVar(&encoding, "encoding", "LINEAR16", "Audio encoding")
	rootCmd.Flags().StringVar(&language, "language", "", "Language code (default: server setting)")
	rootCmd.Flags().IntVar(&chunkSize, "chunk-size", 1024, "Bytes per binary frame")
	rootCmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between frames")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
}

func runAudioClient(cmd *cobra.Command, args []string) error {
	logger := logging.NewCLILogger(logLevel, true)
	defer logger.Sync()

	audio, err := os.ReadFile(audioFile)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	auth, err := authenticateDevice(ctx, serverURL, serialNumber, secretKey)
	if err != nil {
		return fmt.Errorf("failed to authenticate device: %w", err)
	}
	logger.Info("Authenticated device", zap.String("deviceID", auth.DeviceID))

	summary, err := streamAudio(ctx, serverURL, auth.Token, audio, clientOptions{
		start: wsmsg.ListeningStartMessage{
			BaseMessage: wsmsg.BaseMessage{Type: wsmsg.MessageTypeListeningStart},
			SessionID:   sessionID,
			SampleRate:  sampleRate,
			Encoding:    encoding,
			Language:    language,
		},
		chunkSize: chunkSize,
		interval:  interval,
		logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Session finished",
		zap.String("sessionID", summary.SessionID),
		zap.String("reason", summary.Reason),
		zap.Int("chunkCount", summary.ChunkCount),
		zap.Int64("durationMs", summary.DurationMs),
		zap.String("transcript", summary.Transcript))
	return nil
}

// authenticateDevice exchanges device credentials for a bearer token
func authenticateDevice(ctx context.Context, baseURL, serial, secret string) (*api.DeviceAuthResponse, error) {
	body, err := json.Marshal(api.DeviceAuthRequest{
		SerialNumber: serial,
		SecretKey:    secret,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+"/api/v1/device/auth", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authentication failed: %s", string(payload))
	}

	var authResp api.DeviceAuthResponse
	if err := json.Unmarshal(payload, &authResp); err != nil {
		return nil, err
	}
	return &authResp, nil
}

func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

type clientOptions struct {
	start     wsmsg.ListeningStartMessage
	chunkSize int
	interval  time.Duration
	logger    *zap.Logger
}

// streamAudio runs one listening session over the gateway and returns the
// server's listening_end summary.
func streamAudio(ctx context.Context, baseURL, token string, audio []byte, opts clientOptions) (*wsmsg.ListeningEndedMessage, error) {
	wsURL, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	started := make(chan wsmsg.ListeningStartedMessage, 1)
	ended := make(chan wsmsg.ListeningEndedMessage, 1)
	readErr := make(chan error, 1)
	go readMessages(conn, opts.logger, started, ended, readErr)

	if err := conn.WriteJSON(opts.start); err != nil {
		return nil, fmt.Errorf("failed to send listening_start: %w", err)
	}

	var ack wsmsg.ListeningStartedMessage
	select {
	case ack = <-started:
	case err := <-readErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if ack.Error != "" {
		return nil, fmt.Errorf("listening_start rejected: %s", ack.Error)
	}
	opts.logger.Info("Listening started", zap.String("sessionID", ack.SessionID))

	for offset := 0; offset < len(audio); offset += opts.chunkSize {
		end := min(offset+opts.chunkSize, len(audio))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio[offset:end]); err != nil {
			return nil, fmt.Errorf("failed to send audio chunk: %w", err)
		}

		select {
		case summary := <-ended:
			return closeNormally(conn, &summary), nil
		case err := <-readErr:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.interval):
		}
	}

	endMsg := wsmsg.ListeningEndMessage{
		BaseMessage: wsmsg.BaseMessage{Type: wsmsg.MessageTypeListeningEnd},
		SessionID:   ack.SessionID,
	}
	if err := conn.WriteJSON(endMsg); err != nil {
		return nil, fmt.Errorf("failed to send listening_end: %w", err)
	}

	select {
	case summary := <-ended:
		return closeNormally(conn, &summary), nil
	case err := <-readErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func closeNormally(conn *websocket.Conn, summary *wsmsg.ListeningEndedMessage) *wsmsg.ListeningEndedMessage {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return summary
}

func readMessages(conn *websocket.Conn, logger *zap.Logger, started chan<- wsmsg.ListeningStartedMessage, ended chan<- wsmsg.ListeningEndedMessage, readErr chan<- error) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case readErr <- fmt.Errorf("read: %w", err):
				default:
				}
			}
			return
		}
		if messageType != websocket.TextMessage {
			logger.Debug("Ignoring binary frame", zap.Int("size", len(message)))
			continue
		}

		var base wsmsg.BaseMessage
		if err := json.Unmarshal(message, &base); err != nil {
			logger.Warn("Unparsable message", zap.Error(err))
			continue
		}

		switch base.Type {
		case wsmsg.MessageTypeListeningStart:
			var msg wsmsg.ListeningStartedMessage
			if err := json.Unmarshal(message, &msg); err == nil {
				select {
				case started <- msg:
				default:
				}
			}
		case wsmsg.MessageTypeListeningEnd:
			var msg wsmsg.ListeningEndedMessage
			if err := json.Unmarshal(message, &msg); err == nil {
				select {
				case ended <- msg:
				default:
				}
			}
		case wsmsg.MessageTypeRecognition:
			var msg wsmsg.RecognitionMessage
			if err := json.Unmarshal(message, &msg); err == nil && msg.Event != nil && msg.Event.RecognitionResult != nil {
				logger.Info("Recognition",
					zap.String("transcript", msg.Event.RecognitionResult.Transcript),
					zap.Bool("final", msg.Event.RecognitionResult.IsFinal))
			}
		case wsmsg.MessageTypeError:
			var msg wsmsg.ErrorMessage
			if err := json.Unmarshal(message, &msg); err == nil {
				logger.Warn("Server error",
					zap.String("code", msg.Code),
					zap.String("message", msg.Message),
					zap.String("details", msg.Details))
			}
		default:
			logger.Debug("Received message", zap.ByteString("message", message))
		}
	}
}
