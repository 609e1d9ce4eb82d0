package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"streetlamp/internal/model"
)

// Memory keeps state in process. It backs the relay when no realtime
// database is configured.
type Memory struct {
	mu     sync.RWMutex
	rec    *model.DeviceRecord
	keys   []string
	tokens map[string]string
}

func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]string)}
}

// Seed replaces the whole record, as the device does on each update.
func (m *Memory) Seed(rec model.DeviceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
}

func (m *Memory) Status(ctx context.Context) (*model.DeviceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rec == nil {
		return nil, nil
	}
	out := *m.rec
	return &out, nil
}

func (m *Memory) SetField(ctx context.Context, field string, value bool) error {
	if err := checkField(field); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		m.rec = &model.DeviceRecord{}
	}
	switch field {
	case FieldLightsOn:
		m.rec.LightsOn = value
	case FieldManualMode:
		m.rec.IsManualMode = value
	}
	return nil
}

// AddToken appends under a fresh key; duplicates are kept.
func (m *Memory) AddToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.NewString()
	m.keys = append(m.keys, key)
	m.tokens[key] = token
	return nil
}

func (m *Memory) Tokens(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.tokens[k])
	}
	return out, nil
}
