package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
	"github.com/satriahrh/arunika/streamer/internal/auth"
	"github.com/satriahrh/arunika/streamer/internal/websocket"
)

const claimsKey = "claims"

// Handler serves the HTTP API
type Handler struct {
	hub         *websocket.Hub
	devices     repositories.DeviceRepository
	transcripts repositories.TranscriptRepository
	issuer      *auth.TokenIssuer
	logger      *zap.Logger
}

// NewHandler creates the API handler
func NewHandler(
	hub *websocket.Hub,
	devices repositories.DeviceRepository,
	transcripts repositories.TranscriptRepository,
	issuer *auth.TokenIssuer,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		hub:         hub,
		devices:     devices,
		transcripts: transcripts,
		issuer:      issuer,
		logger:      logger,
	}
}

// InitRoutes initializes all API routes
func (h *Handler) InitRoutes(e *echo.Echo) {
	// Health check
	e.GET("/health", h.health)

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Device APIs
	v1.POST("/device/auth", h.deviceAuth)

	// Transcripts of a streaming session, scoped to the calling device
	v1.GET("/sessions/:id/transcripts", h.sessionTranscripts, h.requireDevice)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", h.serveWebSocket, h.requireDevice)
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:           "ok",
		Service:          "arunika-streamer",
		ConnectedDevices: h.hub.ClientCount(),
	})
}

func (h *Handler) deviceAuth(c echo.Context) error {
	var req DeviceAuthRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Failed to bind device auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	// Validate required fields
	if req.SerialNumber == "" || req.SecretKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Serial number and secret key are required",
		})
	}

	device, err := h.devices.ValidateDevice(req.SerialNumber, req.SecretKey)
	if err != nil {
		h.logger.Warn("Device authentication failed",
			zap.String("serial_number", req.SerialNumber),
			zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid device credentials",
		})
	}

	// Generate JWT token for the device
	token, expiresAt, err := h.issuer.GenerateDeviceToken(device.ID)
	if err != nil {
		h.logger.Error("Failed to generate device token",
			zap.String("device_id", device.ID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.logger.Info("Device authenticated successfully",
		zap.String("device_id", device.ID),
		zap.String("serial_number", device.SerialNumber))

	return c.JSON(http.StatusOK, DeviceAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		DeviceID:  device.ID,
	})
}

func (h *Handler) sessionTranscripts(c echo.Context) error {
	claims := c.Get(claimsKey).(*auth.JWTClaims)
	sessionID := c.Param("id")

	transcripts, err := h.transcripts.ListBySession(c.Request().Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to list transcripts",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to list transcripts",
		})
	}

	response := TranscriptsResponse{
		SessionID:   sessionID,
		Transcripts: make([]TranscriptResponse, 0, len(transcripts)),
	}
	for _, t := range transcripts {
		if t.DeviceID != claims.DeviceID {
			continue
		}
		response.Transcripts = append(response.Transcripts, newTranscriptResponse(t))
	}

	return c.JSON(http.StatusOK, response)
}

// serveWebSocket upgrades an authenticated device connection
func (h *Handler) serveWebSocket(c echo.Context) error {
	claims := c.Get(claimsKey).(*auth.JWTClaims)

	h.logger.Info("WebSocket connection authenticated",
		zap.String("device_id", claims.DeviceID),
		zap.String("role", claims.Role))

	return websocket.HandleWebSocketWithAuth(h.hub, c, claims.DeviceID, h.logger)
}

// requireDevice accepts only requests carrying a valid device bearer token
func (h *Handler) requireDevice(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Extract JWT token from Authorization header only
		token, found := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if !found || token == "" {
			h.logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := h.issuer.ValidateToken(token)
		if err != nil {
			h.logger.Warn("Request rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		// Verify this is a device token
		if claims.Role != auth.RoleDevice {
			h.logger.Warn("Request rejected: invalid role",
				zap.String("role", claims.Role))
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "invalid_role",
				Message: "Only device tokens are allowed",
			})
		}

		if claims.DeviceID == "" {
			h.logger.Error("Request rejected: missing device ID in token")
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_token_claims",
				Message: "Device ID not found in token",
			})
		}

		c.Set(claimsKey, claims)
		return next(c)
	}
}
