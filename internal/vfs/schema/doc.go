// Package schema defines the records of the kws virtual filesystem.
//
// # Overview
//
// A workspace owns a graph of virtual nodes. Each node is one file,
// directory, symlink or ingested document, addressed by a slash-separated
// path relative to the workspace root:
//
//	Workspace "notes"
//	     ├── docs/              (KindDirectory)
//	     ├── docs/intro.md      (KindFile, content_hash=9f86d0...)
//	     └── latest -> docs/    (KindSymlink, metadata target=docs)
//
// File and document bytes live in content objects keyed by their SHA-256
// fingerprint, so identical files share one stored payload.
//
// # Synchronization status
//
// Every node carries a SyncStatus describing how it relates to the last
// known physical copy:
//
//	Created   new, never written to disk
//	Modified  changed virtually, not yet flushed
//	Deleted   removed virtually, pending physical removal
//	Synced    matches the physical copy
//	Conflict  both sides changed; waits for an external resolution
//
// Created, Modified and Deleted nodes are picked up by a flush. A physical
// change observed while a node is Created or Modified turns it into a
// Conflict unless auto-resolution is enabled.
//
// # Usage Examples
//
//	node := schema.NewNode("ws-1", "docs/intro.md", schema.KindFile)
//	node.ApplyContent(schema.Fingerprint(data), int64(len(data)))
//	if err := node.Validate(); err != nil {
//	    return err
//	}
package schema
