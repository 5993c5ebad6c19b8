package materialize

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// BackupSuffix is appended to the target directory name to form the
// backup location.
const BackupSuffix = ".kws-backup"

// BackupPath returns the sibling directory a backup of target is kept in.
// Relative targets are resolved against the working directory first, so
// "." is backed up next to the current directory and not inside it.
func BackupPath(target string) string {
	target = absPath(target)
	return filepath.Join(filepath.Dir(target), filepath.Base(target)+BackupSuffix)
}

// backupLocation resolves target and its backup path. A filesystem root
// has no sibling to hold a backup and is rejected.
func backupLocation(op, target string) (string, string, error) {
	target = absPath(target)
	backup := BackupPath(target)
	if filepath.Dir(target) == target || within(target, backup) {
		return "", "", invalidInput(op, target, "cannot keep a backup outside of %s", target)
	}
	return target, backup, nil
}

// CreateBackup copies the whole tree at target to BackupPath(target),
// replacing any previous backup. It returns the backup path.
func (e *Engine) CreateBackup(target string) (string, error) {
	target, backup, err := backupLocation("backup", target)
	if err != nil {
		return "", err
	}
	info, err := e.fs.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return "", newError(KindNotFound, "backup", target, err)
	}
	if err != nil {
		return "", ioError("backup", target, err)
	}
	if !info.IsDir() {
		return "", invalidInput("backup", target, "not a directory")
	}

	if err := e.fs.RemoveAll(backup); err != nil {
		return "", ioError("backup", backup, err)
	}
	if err := copyTree(e.fs, target, backup); err != nil {
		return "", ioError("backup", target, err)
	}
	e.logger.Printf("Backed up %s to %s", target, backup)
	return backup, nil
}

// RestoreBackup replaces target with the contents of its backup and removes
// the backup. It is a remove-then-copy and is not crash-safe: a crash in the
// middle leaves a partially restored target with the backup still in place.
func (e *Engine) RestoreBackup(target string) error {
	target, backup, err := backupLocation("restore", target)
	if err != nil {
		return err
	}

	info, err := e.fs.Stat(backup)
	if errors.Is(err, os.ErrNotExist) {
		return newError(KindNotFound, "restore", backup, err)
	}
	if err != nil {
		return ioError("restore", backup, err)
	}
	if !info.IsDir() {
		return invalidInput("restore", backup, "backup is not a directory")
	}

	if err := e.fs.RemoveAll(target); err != nil {
		return ioError("restore", target, err)
	}
	if err := copyTree(e.fs, backup, target); err != nil {
		return ioError("restore", target, err)
	}
	if err := e.fs.RemoveAll(backup); err != nil {
		e.logger.Printf("Warning: restored %s but could not remove backup: %v", target, err)
	}
	e.logger.Printf("Restored %s from %s", target, backup)
	return nil
}

// RemoveBackup deletes the backup of target if there is one.
func (e *Engine) RemoveBackup(target string) error {
	if err := e.fs.RemoveAll(BackupPath(target)); err != nil {
		return ioError("backup", BackupPath(target), err)
	}
	return nil
}

// HasBackup reports whether a backup of target exists.
func (e *Engine) HasBackup(target string) (bool, error) {
	return afero.DirExists(e.fs, BackupPath(target))
}

// copyTree copies src to dst with an explicit worklist, so tree depth is
// bounded by memory rather than by the call stack.
func copyTree(fs afero.Fs, src, dst string) error {
	type pair struct{ src, dst string }
	work := []pair{{src, dst}}

	for len(work) > 0 {
		item := work[len(work)-1]
		work = work[:len(work)-1]

		info, err := lstat(fs, item.src)
		if err != nil {
			return err
		}

		switch mode := info.Mode(); {
		case mode&os.ModeSymlink != 0:
			link, err := readlink(fs, item.src)
			if err != nil {
				return err
			}
			if err := symlink(fs, link, item.dst); err != nil {
				return err
			}

		case mode.IsDir():
			if err := fs.MkdirAll(item.dst, mode.Perm()|0o700); err != nil {
				return err
			}
			entries, err := afero.ReadDir(fs, item.src)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				work = append(work, pair{
					src: filepath.Join(item.src, entry.Name()),
					dst: filepath.Join(item.dst, entry.Name()),
				})
			}

		case mode.IsRegular():
			if err := copyFile(fs, item.src, item.dst, mode.Perm()); err != nil {
				return err
			}

		default:
			// Devices, sockets and pipes are not copied.
		}
	}
	return nil
}
