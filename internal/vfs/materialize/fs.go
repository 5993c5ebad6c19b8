package materialize

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	defaultDirPerm  os.FileMode = 0o755
	defaultFilePerm os.FileMode = 0o644
)

// physicalPath resolves a virtual path under target. Paths that would
// escape target are rejected.
func physicalPath(target, virtual string) (string, error) {
	virtual = strings.ReplaceAll(virtual, "\\", "/")
	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(virtual, "/")))
	if rel == "." {
		return "", errors.New("empty path")
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path escapes the target directory")
	}
	return filepath.Join(target, rel), nil
}

// absPath cleans name and makes it absolute. If the working directory
// cannot be determined the cleaned name is returned as is.
func absPath(name string) string {
	if abs, err := filepath.Abs(name); err == nil {
		return abs
	}
	return filepath.Clean(name)
}

// within reports whether name is dir or lies below it.
func within(dir, name string) bool {
	rel, err := filepath.Rel(dir, name)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// symlinkedParent returns the first existing directory between target and p
// (both exclusive) that is a symlink, or "" if there is none. The target
// itself may be a link.
func symlinkedParent(fs afero.Fs, target, p string) (string, error) {
	rel, err := filepath.Rel(target, filepath.Dir(p))
	if err != nil || rel == "." {
		return "", nil
	}
	current := target
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := lstat(fs, current)
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return current, nil
		}
	}
	return "", nil
}

func lstat(fs afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fs.Stat(name)
}

func exists(fs afero.Fs, name string) (bool, error) {
	_, err := lstat(fs, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func symlink(fs afero.Fs, oldname, newname string) error {
	linker, ok := fs.(afero.Linker)
	if !ok {
		return ErrUnsupportedPlatform
	}
	err := linker.SymlinkIfPossible(oldname, newname)
	if errors.Is(err, afero.ErrNoSymlink) || errors.Is(err, errors.ErrUnsupported) {
		return ErrUnsupportedPlatform
	}
	return err
}

func readlink(fs afero.Fs, name string) (string, error) {
	reader, ok := fs.(afero.LinkReader)
	if !ok {
		return "", ErrUnsupportedPlatform
	}
	target, err := reader.ReadlinkIfPossible(name)
	if errors.Is(err, afero.ErrNoReadlink) {
		return "", ErrUnsupportedPlatform
	}
	return target, err
}

// copyFile copies one regular file, keeping its permission bits.
func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return fs.Chmod(dst, perm)
}
