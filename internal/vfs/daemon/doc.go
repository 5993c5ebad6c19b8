// Package daemon keeps workspaces in step with local directories.
//
// # Architecture
//
//	local directory ──fsnotify──▶ FileWatcher ──▶ change queue (debounced)
//	                                                    │
//	                                                    ▼
//	                                 materialize.Engine.SyncFromFilesystem
//	                                                    │
//	virtual edits ◀── flush timer ── Engine.Flush ◀─────┘
//
// FileWatcher wraps fsnotify and watches each root recursively, adding
// watches for directories created after start. It applies the same hidden
// and exclusion rules as the sync walk, so edits inside node_modules or
// .git never wake the daemon.
//
// The Daemon debounces events per binding and re-syncs the whole binding
// once it is quiet. Unchanged files are skipped by fingerprint, so a full
// walk is cheap compared to tracking individual paths. With a FlushInterval
// the daemon also flushes pending virtual edits back to the directory.
//
// # Usage
//
//	engine := materialize.New(store, nil)
//	d, err := daemon.New(engine, []daemon.Binding{
//	    {WorkspaceID: ws.ID, Root: "/home/me/notes"},
//	})
//	if err != nil {
//	    return err
//	}
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	return d.Start(ctx)
//
// Files removed from disk are reported by the watcher but not propagated:
// a sync only adds and updates nodes.
package daemon
