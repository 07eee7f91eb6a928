package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/streamer/domain/entities"
	"github.com/satriahrh/arunika/streamer/domain/repositories"
	"github.com/satriahrh/arunika/streamer/internal/config"
	"github.com/satriahrh/arunika/streamer/internal/credentials"
	"github.com/satriahrh/arunika/streamer/internal/streamer"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Time allowed to store a final transcript.
	persistWait = 5 * time.Second
)

// Reason reported when the idle reaper stops a stream
const EndReasonIdle = "idle_timeout"

var upgrader = websocket.Upgrader{
	// Devices authenticate with a bearer token, not cookies
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of connected devices and their stream sessions.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	stopped chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	factory     repositories.ClientFactory
	transcripts repositories.TranscriptRepository
	recognizer  config.RecognizerConfig
	validator   *MessageValidator

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(
	factory repositories.ClientFactory,
	transcripts repositories.TranscriptRepository,
	recognizer config.RecognizerConfig,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		stopped:     make(chan struct{}),
		factory:     factory,
		transcripts: transcripts,
		recognizer:  recognizer,
		validator:   NewMessageValidator(),
		logger:      logger,
	}
}

// Run starts the hub's main loop. Every client still connected when ctx
// is done is disconnected and its session closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if previous, ok := h.clients[client.deviceID]; ok {
				h.logger.Warn("Device reconnected, dropping previous connection",
					zap.String("deviceID", client.deviceID))
				previous.shutdown()
			}
			h.clients[client.deviceID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("deviceID", client.deviceID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.deviceID]; ok && current == client {
				delete(h.clients, client.deviceID)
			}
			h.mu.Unlock()
			client.shutdown()
			h.logger.Info("Client unregistered", zap.String("deviceID", client.deviceID))

		case <-ctx.Done():
			h.mu.Lock()
			for deviceID, client := range h.clients {
				client.shutdown()
				delete(h.clients, deviceID)
			}
			h.mu.Unlock()
			h.logger.Info("Hub stopped")
			return
		}
	}
}

// ClientCount returns the number of connected devices
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StopIdleStreams stops every active stream that has not received audio
// within idle and returns how many were stopped.
func (h *Hub) StopIdleStreams(idle time.Duration) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	stopped := 0
	for _, client := range clients {
		if client.stopIfIdle(idle) {
			stopped++
		}
	}
	return stopped
}

// debugFileFor gives every device its own recording so concurrent streams
// do not truncate each other's file.
func (h *Hub) debugFileFor(deviceID string) string {
	dir, name := filepath.Split(h.recognizer.DebugFile)
	return filepath.Join(dir, deviceID+"-"+name)
}

func (h *Hub) credentialPath() string {
	return credentials.Resolve(h.recognizer.CredentialsFile)
}

// WriteData is one outbound frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Closed once the client is shut down.
	done      chan struct{}
	closeOnce sync.Once

	// Device ID for this client
	deviceID string

	// Logger
	logger *zap.Logger

	mutex          sync.Mutex
	session        *streamer.StreamSession
	chunkCount     int
	listeningStart time.Time
	lastAudio      time.Time
}

// HandleWebSocketWithAuth handles websocket requests with pre-authenticated device ID
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, deviceID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, 256),
		done:     make(chan struct{}),
		deviceID: deviceID,
		logger:   logger.With(zap.String("deviceID", deviceID)),
	}

	select {
	case hub.register <- client:
	case <-hub.stopped:
		conn.Close()
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
			c.shutdown()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// sendJSON queues a text frame without blocking. Frames are dropped once
// the client is shut down or its buffer is full.
func (c *Client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.done:
	default:
		c.logger.Warn("Send buffer full, dropping message")
	}
}

// shutdown closes the device's stream session and stops the write pump
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mutex.Lock()
		session := c.session
		c.session = nil
		c.mutex.Unlock()

		if session == nil {
			return
		}
		if err := session.Close(); err != nil {
			c.logger.Warn("Failed to close stream session",
				zap.String("sessionID", session.ID()),
				zap.Error(err))
		}
		go func() {
			session.Wait()
			c.logger.Debug("Stream session drained", zap.String("sessionID", session.ID()))
		}()
	})
}

// processMessage processes incoming control messages from the device
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendJSON(CreateErrorMessage("INVALID_MESSAGE", "invalid message", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *ListeningStartMessage:
		c.handleListeningStart(m)
	case *ListeningEndMessage:
		c.handleListeningEnd(m)
	case *PingMessage:
		c.sendJSON(CreatePongMessage(m.Data))
	}
}

// processBinaryAudioChunk forwards binary audio to the current stream
func (c *Client) processBinaryAudioChunk(data []byte) {
	c.mutex.Lock()
	session := c.session
	if session != nil && session.State() == streamer.StateActive {
		c.chunkCount++
		c.lastAudio = time.Now()
	}
	c.mutex.Unlock()

	if session == nil {
		c.logger.Warn("Received binary audio chunk but no session is open")
		return
	}

	// Audio after the stream has ended is dropped by the session
	session.Write(data)
}

// streamConfigFor merges the device's listening_start overrides into the server defaults
func (c *Client) streamConfigFor(msg *ListeningStartMessage) repositories.StreamConfig {
	cfg := c.hub.recognizer.StreamConfig()
	if msg.SampleRate > 0 {
		cfg.SampleRateHertz = int32(msg.SampleRate)
	}
	if msg.Encoding != "" {
		cfg.Encoding = strings.ToUpper(msg.Encoding)
	}
	if msg.Language != "" {
		cfg.LanguageCode = msg.Language
	}
	if len(msg.PhraseHints) > 0 {
		cfg.PhraseHints = msg.PhraseHints
	}
	return cfg
}

// handleListeningStart opens or restarts the device's recognition stream
func (c *Client) handleListeningStart(msg *ListeningStartMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	sessionID := msg.SessionID
	if sessionID == "" && c.session != nil {
		sessionID = c.session.ID()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	response := &ListeningStartedMessage{
		BaseMessage: newBase(MessageTypeListeningStart),
		SessionID:   sessionID,
	}
	defer c.sendJSON(response)

	if c.session != nil && c.session.ID() != sessionID {
		previous := c.session
		c.session = nil
		if err := previous.Close(); err != nil {
			c.logger.Warn("Failed to close previous stream session",
				zap.String("sessionID", previous.ID()),
				zap.Error(err))
		}
	}

	if c.session == nil {
		c.session = c.newSession(sessionID)
	}

	c.chunkCount = 0
	c.listeningStart = time.Now()
	c.lastAudio = c.listeningStart

	if err := c.session.Start(ctx, c.streamConfigFor(msg)); err != nil {
		c.logger.Error("Failed to start recognition stream",
			zap.String("sessionID", sessionID),
			zap.Error(err))
		response.Error = "failed to start recognition"
		return
	}

	c.logger.Info("Audio session started", zap.String("sessionID", sessionID))
	response.Message = "listening started"
}

// handleListeningEnd stops the device's recognition stream
func (c *Client) handleListeningEnd(msg *ListeningEndMessage) {
	c.mutex.Lock()
	session := c.session
	c.mutex.Unlock()

	if session == nil {
		c.sendJSON(CreateErrorMessage("NO_SESSION", "no listening session is open", ""))
		return
	}

	session.Stop()
	c.sendJSON(c.endedMessage(session.ID(), EndReasonRequested, ""))

	c.logger.Info("Audio session ended",
		zap.String("sessionID", session.ID()),
		zap.String("reason", EndReasonRequested))
}

// stopIfIdle stops an active stream that has gone without audio for idle
func (c *Client) stopIfIdle(idle time.Duration) bool {
	c.mutex.Lock()
	session := c.session
	idleFor := time.Since(c.lastAudio)
	c.mutex.Unlock()

	if session == nil || session.State() != streamer.StateActive || idleFor < idle {
		return false
	}

	session.Stop()
	c.sendJSON(c.endedMessage(session.ID(), EndReasonIdle, ""))
	c.logger.Info("Stopped idle stream",
		zap.String("sessionID", session.ID()),
		zap.Duration("idleFor", idleFor))
	return true
}

func (c *Client) endedMessage(sessionID, reason, transcript string) *ListeningEndedMessage {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return &ListeningEndedMessage{
		BaseMessage: newBase(MessageTypeListeningEnd),
		SessionID:   sessionID,
		Reason:      reason,
		ChunkCount:  c.chunkCount,
		DurationMs:  time.Since(c.listeningStart).Milliseconds(),
		Transcript:  transcript,
	}
}

// newSession creates the device's stream session. Events are relayed to
// the device and final results are stored as transcripts.
func (c *Client) newSession(sessionID string) *streamer.StreamSession {
	var session *streamer.StreamSession

	handlers := streamer.Handlers{
		OnMessage: func(resp *repositories.StreamResponse) {
			c.sendJSON(CreateRecognitionMessage(sessionID, resp))
			if !resp.IsFinal() {
				return
			}

			c.persistTranscript(sessionID, resp)

			// The session stops itself right after this handler returns. A
			// stream already stopped by the device has been announced.
			if session.State() == streamer.StateActive {
				c.sendJSON(c.endedMessage(sessionID, EndReasonFinalResult, resp.RecognitionResult.Transcript))
			}
		},
		OnError: func(err error) {
			c.logger.Error("Recognition stream failed",
				zap.String("sessionID", sessionID),
				zap.Error(err))
			c.sendJSON(CreateErrorMessage("RECOGNITION_FAILED", "recognition stream failed", err.Error()))
		},
	}

	opts := []streamer.Option{
		streamer.WithLogger(c.logger),
		streamer.WithCredentialResolver(c.hub.credentialPath),
	}
	if c.hub.recognizer.Debug {
		opts = append(opts, streamer.WithDebugFile(c.hub.debugFileFor(c.deviceID)))
	}

	session = streamer.NewStreamSession(c.hub.factory, handlers, sessionID, c.hub.recognizer.Debug, opts...)
	return session
}

func (c *Client) persistTranscript(sessionID string, resp *repositories.StreamResponse) {
	result := resp.RecognitionResult
	if strings.TrimSpace(result.Transcript) == "" {
		return
	}

	c.mutex.Lock()
	startedAt := c.listeningStart
	c.mutex.Unlock()

	transcript := entities.NewTranscript(sessionID, c.deviceID, result.Transcript)
	transcript.ResponseID = resp.ResponseID
	transcript.Confidence = result.Confidence
	transcript.LanguageCode = result.LanguageCode
	transcript.StartedAt = startedAt
	if q := resp.QueryResult; q != nil {
		transcript.Intent = q.IntentName
		transcript.Fulfillment = q.FulfillmentText
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistWait)
	defer cancel()

	if err := c.hub.transcripts.Create(ctx, transcript); err != nil {
		c.logger.Error("Failed to store transcript",
			zap.String("sessionID", sessionID),
			zap.Error(err))
		return
	}

	c.logger.Info("Transcription completed",
		zap.String("sessionID", sessionID),
		zap.String("transcription", transcript.Text),
		zap.Duration("duration", transcript.Duration()))
}
