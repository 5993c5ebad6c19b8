package materialize

import (
	"fmt"
	"time"
)

// FlushReport summarizes a Flush.
type FlushReport struct {
	FilesWritten       int           `json:"files_written"`
	DirectoriesCreated int           `json:"directories_created"`
	SymlinksCreated    int           `json:"symlinks_created"`
	FilesDeleted       int           `json:"files_deleted"`
	BytesWritten       int64         `json:"bytes_written"`
	Errors             []string      `json:"errors,omitempty"`
	Duration           time.Duration `json:"duration"`

	// BackupPath is where the pre-flush backup was taken, if any. The
	// backup is removed again when the flush succeeds.
	BackupPath string `json:"backup_path,omitempty"`

	// RolledBack is set when an atomic flush failed and the target was
	// restored from the backup.
	RolledBack bool `json:"rolled_back,omitempty"`
}

// Items returns the number of physical entries touched.
func (r *FlushReport) Items() int {
	return r.FilesWritten + r.DirectoriesCreated + r.SymlinksCreated + r.FilesDeleted
}

func (r *FlushReport) String() string {
	return fmt.Sprintf("%d files, %d dirs, %d symlinks written, %d deleted, %d bytes, %d errors in %v",
		r.FilesWritten, r.DirectoriesCreated, r.SymlinksCreated, r.FilesDeleted,
		r.BytesWritten, len(r.Errors), r.Duration.Round(time.Millisecond))
}

// SyncReport summarizes a SyncFromFilesystem.
type SyncReport struct {
	FilesSynced       int           `json:"files_synced"`
	DirectoriesSynced int           `json:"directories_synced"`
	SymlinksSynced    int           `json:"symlinks_synced"`
	BytesSynced       int64         `json:"bytes_synced"`
	ConflictsDetected int           `json:"conflicts_detected"`
	Conflicts         []string      `json:"conflicts,omitempty"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration"`
}

func (r *SyncReport) String() string {
	return fmt.Sprintf("%d files, %d dirs, %d symlinks synced, %d bytes, %d conflicts, %d errors in %v",
		r.FilesSynced, r.DirectoriesSynced, r.SymlinksSynced, r.BytesSynced,
		r.ConflictsDetected, len(r.Errors), r.Duration.Round(time.Millisecond))
}
