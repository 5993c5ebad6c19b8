package dashboard

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kwspace/kws/internal/vfs/materialize"
	"github.com/kwspace/kws/internal/vfs/schema"
)

// FlushCompleteData contains flush results
type FlushCompleteData struct {
	FilesWritten       int           `json:"files_written"`
	DirectoriesCreated int           `json:"directories_created"`
	SymlinksCreated    int           `json:"symlinks_created"`
	FilesDeleted       int           `json:"files_deleted"`
	BytesWritten       int64         `json:"bytes_written"`
	Errors             []string      `json:"errors,omitempty"`
	RolledBack         bool          `json:"rolled_back,omitempty"`
	Failed             string        `json:"failed,omitempty"`
	Duration           time.Duration `json:"duration"`
}

// SyncCompleteData contains filesystem sync results
type SyncCompleteData struct {
	WorkspaceID       string        `json:"workspace_id"`
	FilesSynced       int           `json:"files_synced"`
	DirectoriesSynced int           `json:"directories_synced"`
	BytesSynced       int64         `json:"bytes_synced"`
	ConflictsDetected int           `json:"conflicts_detected"`
	Errors            []string      `json:"errors,omitempty"`
	Failed            string        `json:"failed,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// ConflictData describes a node that entered conflict
type ConflictData struct {
	WorkspaceID   string `json:"workspace_id"`
	NodeID        string `json:"node_id"`
	Path          string `json:"path"`
	LocalHash     string `json:"local_hash,omitempty"`
	FSContentHash string `json:"fs_content_hash"`
	DetectedAt    string `json:"detected_at"`
}

// StatsData contains running totals and, after RefreshStats, node counts
type StatsData struct {
	Flushes      int            `json:"flushes"`
	Syncs        int            `json:"syncs"`
	FilesWritten int            `json:"files_written"`
	FilesSynced  int            `json:"files_synced"`
	Conflicts    int            `json:"conflicts"`
	Errors       int            `json:"errors"`
	ByStatus     map[string]int `json:"by_status,omitempty"`
}

// StatusSource reports node counts per status. *db.DB implements it.
type StatusSource interface {
	StatusCounts(ctx context.Context, workspaceID string) (map[schema.SyncStatus]int, error)
}

// Handler turns engine events into dashboard messages. It implements
// materialize.Observer; register it with Engine.AddObserver.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ materialize.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server.
// The server's welcome message is set to the current statistics.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	h := &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{ByStatus: make(map[string]int)},
	}
	server.SetWelcome(h.statsMessage)
	return h
}

// FlushCompleted implements materialize.Observer.
func (h *Handler) FlushCompleted(report *materialize.FlushReport, err error) {
	data := FlushCompleteData{
		FilesWritten:       report.FilesWritten,
		DirectoriesCreated: report.DirectoriesCreated,
		SymlinksCreated:    report.SymlinksCreated,
		FilesDeleted:       report.FilesDeleted,
		BytesWritten:       report.BytesWritten,
		Errors:             report.Errors,
		RolledBack:         report.RolledBack,
		Duration:           report.Duration,
	}
	if err != nil {
		data.Failed = err.Error()
	}

	h.mu.Lock()
	h.stats.Flushes++
	h.stats.FilesWritten += report.FilesWritten
	h.stats.Errors += len(report.Errors)
	h.mu.Unlock()

	if err := h.server.BroadcastData(MessageTypeFlushComplete, data); err != nil {
		h.logger.Printf("Failed to broadcast flush: %v", err)
		return
	}
	h.broadcastStats()
}

// SyncCompleted implements materialize.Observer.
func (h *Handler) SyncCompleted(workspaceID string, report *materialize.SyncReport, err error) {
	data := SyncCompleteData{
		WorkspaceID:       workspaceID,
		FilesSynced:       report.FilesSynced,
		DirectoriesSynced: report.DirectoriesSynced,
		BytesSynced:       report.BytesSynced,
		ConflictsDetected: report.ConflictsDetected,
		Errors:            report.Errors,
		Duration:          report.Duration,
	}
	if err != nil {
		data.Failed = err.Error()
	}

	h.mu.Lock()
	h.stats.Syncs++
	h.stats.FilesSynced += report.FilesSynced
	h.stats.Errors += len(report.Errors)
	h.mu.Unlock()

	if err := h.server.BroadcastData(MessageTypeSyncComplete, data); err != nil {
		h.logger.Printf("Failed to broadcast sync: %v", err)
		return
	}
	h.broadcastStats()
}

// ConflictDetected implements materialize.Observer.
func (h *Handler) ConflictDetected(node *schema.VNode) {
	h.logger.Printf("Conflict: %s in %s", node.Path, node.WorkspaceID)

	h.mu.Lock()
	h.stats.Conflicts++
	h.mu.Unlock()

	data := ConflictData{
		WorkspaceID:   node.WorkspaceID,
		NodeID:        node.ID,
		Path:          node.Path,
		LocalHash:     node.ContentHash,
		FSContentHash: node.Metadata[schema.MetaFSContentHash],
		DetectedAt:    node.Metadata[schema.MetaConflictDetectedAt],
	}
	if err := h.server.BroadcastData(MessageTypeConflict, data); err != nil {
		h.logger.Printf("Failed to broadcast conflict: %v", err)
	}
}

// RefreshStats reloads node counts for a workspace ("" for all) and
// broadcasts the result.
func (h *Handler) RefreshStats(ctx context.Context, source StatusSource, workspaceID string) error {
	counts, err := source.StatusCounts(ctx, workspaceID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.stats.ByStatus = make(map[string]int, len(counts))
	for status, n := range counts {
		h.stats.ByStatus[string(status)] = n
	}
	h.mu.Unlock()

	h.broadcastStats()
	return nil
}

// GetStats returns a copy of the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := h.stats
	stats.ByStatus = make(map[string]int, len(h.stats.ByStatus))
	for k, v := range h.stats.ByStatus {
		stats.ByStatus[k] = v
	}
	return stats
}

func (h *Handler) statsMessage() *Message {
	msg, err := NewMessage(MessageTypeStats, h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return nil
	}
	return msg
}

func (h *Handler) broadcastStats() {
	if msg := h.statsMessage(); msg != nil {
		h.server.Broadcast(*msg)
	}
}
