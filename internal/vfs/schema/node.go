package schema

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeKind identifies what a virtual node represents.
type NodeKind int

const (
	// KindFile is a regular file with byte content.
	KindFile NodeKind = iota
	// KindDirectory is a directory; it never carries content.
	KindDirectory
	// KindSymlink is a symbolic link; its target lives in Metadata["target"].
	KindSymlink
	// KindDocument is an ingested document materialized like a file.
	KindDocument
)

// String returns the stored representation of the kind.
func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// HasContent reports whether nodes of this kind carry a content object.
func (k NodeKind) HasContent() bool {
	return k == KindFile || k == KindDocument
}

// ParseNodeKind converts a stored kind string back to a NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	switch s {
	case "file":
		return KindFile, nil
	case "directory":
		return KindDirectory, nil
	case "symlink":
		return KindSymlink, nil
	case "document":
		return KindDocument, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q", s)
	}
}

// SyncStatus is the synchronization state of a node relative to disk.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusCreated  SyncStatus = "created"
	StatusModified SyncStatus = "modified"
	StatusDeleted  SyncStatus = "deleted"
	StatusConflict SyncStatus = "conflict"
)

// PendingStatuses are the statuses a flush writes to disk.
var PendingStatuses = []SyncStatus{StatusModified, StatusCreated, StatusDeleted}

// IsPending reports whether a flush has work to do for this status.
func (s SyncStatus) IsPending() bool {
	return s == StatusCreated || s == StatusModified || s == StatusDeleted
}

// HasLocalEdit reports whether the status marks an unflushed virtual edit.
func (s SyncStatus) HasLocalEdit() bool {
	return s == StatusCreated || s == StatusModified
}

// ParseSyncStatus validates a stored status string.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch st := SyncStatus(s); st {
	case StatusSynced, StatusCreated, StatusModified, StatusDeleted, StatusConflict:
		return st, nil
	default:
		return "", fmt.Errorf("unknown sync status %q", s)
	}
}

// Metadata keys written by the sync engine.
const (
	MetaSymlinkTarget      = "target"
	MetaFSContentHash      = "fs_content_hash"
	MetaConflictDetectedAt = "conflict_detected_at"
)

// VNode is one record of the virtual file graph.
type VNode struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	// Path is slash-separated and relative to the workspace root.
	Path string   `json:"path"`
	Kind NodeKind `json:"kind"`

	// ContentHash is set iff Kind has content and content exists.
	ContentHash string  `json:"content_hash,omitempty"`
	Size        int64   `json:"size"`
	Mode        *uint32 `json:"mode,omitempty"`

	Status   SyncStatus        `json:"status"`
	Version  int64             `json:"version"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// NewNode returns a Created node at version 1 with a fresh ID.
// The path is cleaned but not validated; call Validate before persisting.
func NewNode(workspaceID, p string, kind NodeKind) *VNode {
	now := time.Now().UTC()
	cleaned, _ := CleanPath(p)
	return &VNode{
		ID:          NewID("vn"),
		WorkspaceID: workspaceID,
		Path:        cleaned,
		Kind:        kind,
		Status:      StatusCreated,
		Version:     1,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
		AccessedAt:  now,
	}
}

// Validate checks the record invariants.
func (n *VNode) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	cleaned, err := CleanPath(n.Path)
	if err != nil {
		return err
	}
	if n.Path == "" {
		return fmt.Errorf("path is required")
	}
	if cleaned != n.Path {
		return fmt.Errorf("path %q is not normalized (want %q)", n.Path, cleaned)
	}
	if _, err := ParseSyncStatus(string(n.Status)); err != nil {
		return err
	}
	if n.Version < 1 {
		return fmt.Errorf("version must be positive (got %d)", n.Version)
	}
	if n.ContentHash != "" && !n.Kind.HasContent() {
		return fmt.Errorf("%s node %s cannot carry content", n.Kind, n.Path)
	}
	if n.ContentHash != "" && !IsFingerprint(n.ContentHash) {
		return fmt.Errorf("content_hash %q is not a fingerprint", n.ContentHash)
	}
	if n.Kind == KindSymlink && n.Metadata[MetaSymlinkTarget] == "" {
		return fmt.Errorf("symlink %s has no target", n.Path)
	}
	return nil
}

// ApplyContent points the node at new content and bumps the version when
// the fingerprint actually changes. It reports whether anything changed.
func (n *VNode) ApplyContent(hash string, size int64) bool {
	if n.ContentHash == hash && n.Size == size {
		return false
	}
	n.ContentHash = hash
	n.Size = size
	n.Version++
	n.Touch()
	return true
}

// SetMode records permission bits; only the low 12 bits are kept.
func (n *VNode) SetMode(mode uint32) {
	m := mode & 0o7777
	n.Mode = &m
}

// Touch sets UpdatedAt to the current time.
func (n *VNode) Touch() {
	n.UpdatedAt = time.Now().UTC()
}

// Name returns the final path element.
func (n *VNode) Name() string {
	return path.Base(n.Path)
}

// InConflict reports whether the node awaits resolution.
func (n *VNode) InConflict() bool {
	return n.Status == StatusConflict
}

// Clone returns a deep copy of the node.
func (n *VNode) Clone() *VNode {
	c := *n
	if n.Mode != nil {
		m := *n.Mode
		c.Mode = &m
	}
	c.Metadata = make(map[string]string, len(n.Metadata))
	for k, v := range n.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// CleanPath normalizes a workspace-relative path. Backslashes are treated
// as separators, leading slashes are dropped, and any path escaping the
// workspace root is rejected. The root itself cleans to "".
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the workspace root", p)
	}
	return cleaned, nil
}

// JoinPath joins a virtual prefix and a relative name.
func JoinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "/" + name
}

// ParentPath returns the parent directory of a virtual path, or "" at the root.
func ParentPath(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// NewID returns "<prefix>-<uuid>". Version 7 UUIDs sort by creation time.
func NewID(prefix string) string {
	return prefix + "-" + uuid.Must(uuid.NewV7()).String()
}
