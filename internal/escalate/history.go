package escalate

import (
	"sync"

	"github.com/ShayCichocki/overseer/pkg/models"
)

// History is an append-only, in-memory record of escalations, keyed by task.
// It lives for the process lifetime; durability across restarts is not
// required for a task's resolution.
type History struct {
	mu      sync.RWMutex
	byTask  map[string][]models.EscalationRecord
	ordered []models.EscalationRecord
}

// NewHistory creates an empty escalation history.
func NewHistory() *History {
	return &History{byTask: make(map[string][]models.EscalationRecord)}
}

// Append records an escalation. Records are never mutated or removed.
func (h *History) Append(rec models.EscalationRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byTask[rec.TaskID] = append(h.byTask[rec.TaskID], rec)
	h.ordered = append(h.ordered, rec)
}

// For returns the escalation records for a task, oldest first.
func (h *History) For(taskID string) []models.EscalationRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	recs := h.byTask[taskID]
	out := make([]models.EscalationRecord, len(recs))
	copy(out, recs)
	return out
}

// All returns every record in append order.
func (h *History) All() []models.EscalationRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.EscalationRecord, len(h.ordered))
	copy(out, h.ordered)
	return out
}
