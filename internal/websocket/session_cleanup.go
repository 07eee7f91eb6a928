package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SessionCleanupService stops device streams that stopped sending audio
type SessionCleanupService struct {
	hub      *Hub
	idle     time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// NewSessionCleanupService creates a cleanup service that checks every
// interval for streams idle longer than idle.
func NewSessionCleanupService(hub *Hub, idle, interval time.Duration, logger *zap.Logger) *SessionCleanupService {
	if interval <= 0 {
		interval = idle / 2
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &SessionCleanupService{
		hub:      hub,
		idle:     idle,
		interval: interval,
		logger:   logger,
	}
}

// Run checks for idle streams until ctx is done
func (s *SessionCleanupService) Run(ctx context.Context) error {
	if s.idle <= 0 {
		s.logger.Info("Session cleanup disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Session cleanup service started",
		zap.Duration("idle", s.idle),
		zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session cleanup service stopped")
			return nil
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup stops every stream idle for too long
func (s *SessionCleanupService) runCleanup() {
	if stopped := s.hub.StopIdleStreams(s.idle); stopped > 0 {
		s.logger.Info("Stopped idle streams", zap.Int("count", stopped))
	}
}
