package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
	"github.com/satriahrh/arunika/streamer/internal/backend"
	"github.com/satriahrh/arunika/streamer/internal/config"
	"github.com/satriahrh/arunika/streamer/internal/logging"
	"github.com/satriahrh/arunika/streamer/internal/streamer"
)

var (
	inputFile string
	envFile   string
	sessionID string
	backendID string
	projectID string
	debug     bool
	logLevel  string

	chunkSize int
	interval  time.Duration
	timeout   time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "streamfile",
	Short: "Stream raw audio through a recognition session",
	Long: `Streams a raw audio file, or stdin, through a recognition session and
prints every recognition event as one JSON line on stdout.

The stream ends when the backend returns a final result, when the input
runs out, or when the timeout expires.`,
	Example: `  # Recognize a 16kHz LINEAR16 recording with the mock backend:
  streamfile --file sample.raw --backend mock

  # Pipe microphone audio into Dialogflow and keep a copy in debug.raw:
  arecord -f S16_LE -r 16000 -t raw | streamfile --project my-agent --debug`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if chunkSize <= 0 {
			return fmt.Errorf("chunk-size must be positive")
		}
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		return nil
	},
	RunE:         runStreamFile,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&inputFile, "file", "f", "-", "Raw audio file, - for stdin")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional .env file with recognizer settings")
	rootCmd.Flags().StringVar(&sessionID, "session-id", "", "Session ID sent with the handshake (default: random)")
	rootCmd.Flags().StringVar(&backendID, "backend", "", "Recognizer backend: dialogflow, speech or mock (default: RECOGNIZER_BACKEND)")
	rootCmd.Flags().StringVar(&projectID, "project", "", "Google project ID (default: GOOGLE_PROJECT_ID)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Record the streamed audio to STREAM_DEBUG_FILE")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	rootCmd.Flags().IntVar(&chunkSize, "chunk-size", 3200, "Bytes per audio chunk")
	rootCmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between chunks, 0 to send as fast as possible")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
}

func runStreamFile(cmd *cobra.Command, args []string) error {
	logger := logging.NewCLILogger(logLevel, true)
	defer logger.Sync()

	cfg, err := config.LoadRecognizer(func(r *config.RecognizerConfig) {
		if backendID != "" {
			r.Backend = backendID
		}
		if projectID != "" {
			r.ProjectID = projectID
		}
		if debug {
			r.Debug = true
		}
	}, envFile)
	if err != nil {
		return err
	}

	factory, err := backend.New(*cfg, logger)
	if err != nil {
		return err
	}

	input, err := openInput(inputFile)
	if err != nil {
		return err
	}
	defer input.Close()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	encoder := json.NewEncoder(cmd.OutOrStdout())
	result, err := streamAudio(ctx, factory, *cfg, input, streamOptions{
		sessionID: sessionID,
		chunkSize: chunkSize,
		interval:  interval,
		logger:    logger,
		onEvent: func(resp *repositories.StreamResponse) {
			if err := encoder.Encode(resp); err != nil {
				logger.Warn("Failed to print event", zap.Error(err))
			}
		},
	})
	if err != nil {
		return err
	}

	logger.Info("Stream finished",
		zap.String("sessionID", sessionID),
		zap.Int("bytes", result.bytes),
		zap.Int("chunks", result.chunks),
		zap.String("transcript", result.transcript),
		zap.Bool("final", result.final))
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	return file, nil
}

type streamOptions struct {
	sessionID string
	chunkSize int
	interval  time.Duration
	logger    *zap.Logger
	onEvent   func(*repositories.StreamResponse)
}

type streamResult struct {
	bytes      int
	chunks     int
	transcript string
	final      bool
}

// streamAudio writes input to a new session in chunks until the input ends,
// a final result arrives or ctx is done, then waits for the remaining events.
func streamAudio(ctx context.Context, factory repositories.ClientFactory, cfg config.RecognizerConfig, input io.Reader, opts streamOptions) (streamResult, error) {
	var (
		mu     sync.Mutex
		result streamResult
		failed = make(chan error, 1)
		final  = make(chan struct{})
	)
	snapshot := func() streamResult {
		mu.Lock()
		defer mu.Unlock()
		return result
	}

	handlers := streamer.Handlers{
		OnMessage: func(resp *repositories.StreamResponse) {
			if opts.onEvent != nil {
				opts.onEvent(resp)
			}
			if !resp.IsFinal() {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if !result.final {
				result.final = true
				result.transcript = resp.RecognitionResult.Transcript
				close(final)
			}
		},
		OnError: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	}

	session := streamer.NewStreamSession(factory, handlers, opts.sessionID, cfg.Debug,
		streamer.WithLogger(opts.logger),
		streamer.WithDebugFile(cfg.DebugFile))
	defer session.Close()

	if err := session.Start(ctx, cfg.StreamConfig()); err != nil {
		return streamResult{}, err
	}

	chunk := make([]byte, opts.chunkSize)
	var ticker *time.Ticker
	if opts.interval > 0 {
		ticker = time.NewTicker(opts.interval)
		defer ticker.Stop()
	}

	reading := true
	for reading {
		n, err := io.ReadFull(input, chunk)
		if n > 0 {
			session.Write(chunk[:n])
			mu.Lock()
			result.bytes += n
			result.chunks++
			mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				session.Stop()
				return snapshot(), fmt.Errorf("failed to read audio: %w", err)
			}
			break
		}

		select {
		case <-final:
			reading = false
		case err := <-failed:
			return snapshot(), fmt.Errorf("recognition failed: %w", err)
		case <-ctx.Done():
			reading = false
		default:
		}

		if reading && ticker != nil {
			select {
			case <-ticker.C:
			case <-final:
				reading = false
			case <-ctx.Done():
				reading = false
			}
		}
	}

	session.Stop()

	// Drain the events the backend sends after the stream was half-closed
	drained := make(chan struct{})
	go func() {
		session.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		opts.logger.Warn("Timed out waiting for the last recognition events")
	}

	select {
	case err := <-failed:
		return snapshot(), fmt.Errorf("recognition failed: %w", err)
	default:
	}

	return snapshot(), nil
}
