// Package materialize reconciles the virtual file graph with a physical
// directory tree.
//
// Two directions are supported:
//
//	VFS (nodes + content objects)
//	     │  Flush: Created/Modified → write, Deleted → remove
//	     ▼
//	target directory on disk
//	     │  SyncFromFilesystem: fingerprint compare, conflict detection
//	     ▼
//	VFS
//
// # Flush
//
// Flush queries the pending nodes in a Scope and applies them to a target
// directory. Deletions always run before writes so that a path which
// changes kind (directory replaced by file, or the reverse) is cleared
// first. With FlushOptions.CreateBackup the target is copied to a sibling
// "<target>.kws-backup" directory beforehand; an atomic flush that fails is
// rolled back from that copy.
//
// # Sync
//
// SyncFromFilesystem walks a directory and records what it finds. Content
// is compared by SHA-256 fingerprint. A file that changed on disk while its
// node carries an unflushed edit is marked Conflict; the disk version is
// stored and referenced from the node's fs_content_hash metadata so that
// ResolveConflict can adopt it later.
//
// # Filesystems
//
// All physical I/O goes through an afero.Fs. Production code uses the OS
// filesystem; tests use afero.NewMemMapFs. Symlinks need a filesystem that
// implements afero.Linker, otherwise ErrUnsupportedPlatform is returned.
//
// # Errors
//
// Engine errors are *Error values with a Kind. Use errors.Is with
// ErrNotFound, ErrInvalidInput, ErrIO or ErrVFS to classify them.
package materialize
