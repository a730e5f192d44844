package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/jverity/tablemirror/internal/mirror/engine"
)

// Handler bridges engine events to dashboard broadcasts
type Handler struct {
	server *Server
	logger *log.Logger

	mu        sync.Mutex
	passes    int
	failed    int
	conflicts int
	byPair    map[string]int
}

// NewHandler creates an event handler that broadcasts to the dashboard
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
		byPair: make(map[string]int),
	}
}

// OnPassEvent broadcasts the outcome of a sync pass. Start events carry no
// outcome and are skipped.
func (h *Handler) OnPassEvent(pair string, ev engine.SyncEvent) {
	if ev.Phase == engine.PhaseStart {
		return
	}

	h.mu.Lock()
	h.passes++
	h.byPair[pair]++
	if ev.Phase == engine.PhaseError {
		h.failed++
	}
	h.mu.Unlock()

	data := PassData{
		Pair:  pair,
		Phase: string(ev.Phase),
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
	}

	h.broadcastMessage(MessageTypePass, data)
	h.broadcastStats()
}

// OnConflict broadcasts a resolved conflict
func (h *Handler) OnConflict(pair string, c engine.ConflictRecord, winner engine.ChangeRecord) {
	h.mu.Lock()
	h.conflicts++
	h.mu.Unlock()

	data := ConflictData{
		Pair:   pair,
		RowKey: winner.Key,
		Winner: winner.Origin.String(),
	}

	h.broadcastMessage(MessageTypeConflict, data)
	h.broadcastStats()
}

// broadcastStats sends current replication statistics
func (h *Handler) broadcastStats() {
	h.mu.Lock()
	stats := StatsData{
		Passes:    h.passes,
		Failed:    h.failed,
		Conflicts: h.conflicts,
		ByPair:    make(map[string]int, len(h.byPair)),
	}
	for pair, n := range h.byPair {
		stats.ByPair[pair] = n
	}
	h.mu.Unlock()

	h.broadcastMessage(MessageTypeStats, stats)
}

// broadcastMessage marshals and broadcasts a typed message
func (h *Handler) broadcastMessage(msgType MessageType, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", msgType, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      jsonData,
	})
}
