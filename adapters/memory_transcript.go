package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/arunika/streamer/domain/entities"
)

// MemoryTranscriptRepository keeps transcripts in memory, grouped by session
type MemoryTranscriptRepository struct {
	mu       sync.RWMutex
	sessions map[string][]*entities.Transcript
}

// NewMemoryTranscriptRepository creates a new in-memory transcript repository
func NewMemoryTranscriptRepository() *MemoryTranscriptRepository {
	return &MemoryTranscriptRepository{
		sessions: make(map[string][]*entities.Transcript),
	}
}

// Create implements TranscriptRepository interface
func (m *MemoryTranscriptRepository) Create(ctx context.Context, transcript *entities.Transcript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}
	if err := transcript.Validate(); err != nil {
		return err
	}

	if transcript.ID == "" {
		transcript.ID = uuid.New().String()
	}
	if transcript.CreatedAt.IsZero() {
		transcript.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	transcriptCopy := *transcript
	m.sessions[transcript.SessionID] = append(m.sessions[transcript.SessionID], &transcriptCopy)
	return nil
}

// ListBySession implements TranscriptRepository interface. Oldest first.
func (m *MemoryTranscriptRepository) ListBySession(ctx context.Context, sessionID string) ([]*entities.Transcript, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.sessions[sessionID]
	result := make([]*entities.Transcript, len(stored))
	for i, transcript := range stored {
		transcriptCopy := *transcript
		result[i] = &transcriptCopy
	}
	return result, nil
}
