package tools

import (
	"context"
	"sync"

	"github.com/convoflow/convoflow/pkg/models"
)

// MockSet overrides tool handlers with scripted fixtures. Active only under
// the test-mode feature flag; the runner consults it before the real
// handler.
type MockSet struct {
	mu       sync.Mutex
	fixtures map[string][]*models.ToolResult
	served   map[string]int
}

// NewMockSet creates an empty mock set.
func NewMockSet() *MockSet {
	return &MockSet{
		fixtures: make(map[string][]*models.ToolResult),
		served:   make(map[string]int),
	}
}

// Script queues fixtures for a tool; calls consume them in order, and the
// last fixture repeats once the queue is exhausted.
func (m *MockSet) Script(tool string, results ...*models.ToolResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtures[tool] = append(m.fixtures[tool], results...)
}

// Handler returns the mock handler for a tool, if one is scripted.
func (m *MockSet) Handler(tool string) (Handler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.fixtures[tool]) == 0 {
		return nil, false
	}
	return func(ctx context.Context, args map[string]any, meta CallMeta) (*models.ToolResult, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		queue := m.fixtures[tool]
		i := m.served[tool]
		if i >= len(queue) {
			i = len(queue) - 1
		}
		m.served[tool]++
		copied := *queue[i]
		return &copied, nil
	}, true
}
