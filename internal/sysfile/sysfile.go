// Package sysfile edits host configuration files (crypttab, fstab, hosts,
// smb.conf) with atomic writes and idempotent line semantics.
package sysfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteAtomic writes content to path via a .tmp sibling, fsyncing the file
// and its directory before and after the rename.
func WriteAtomic(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	_ = fsyncDir(dir)
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	_ = fsyncDir(dir)
	return nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// HasLine reports whether any line of the file contains key. A missing
// file reads as empty.
func HasLine(path, key string) (bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	for _, ln := range strings.Split(string(b), "\n") {
		if strings.Contains(ln, key) {
			return true, nil
		}
	}
	return false, nil
}

// HasEntry reports whether any non-comment line of the file has key as
// its field'th whitespace-separated field (0-based). This is the identity
// test for tabular files like crypttab (field 0 is the mapper name) and
// fstab (field 1 is the mountpoint); substring matches against comments
// or longer names do not count.
func HasEntry(path string, field int, key string) (bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	for _, ln := range strings.Split(string(b), "\n") {
		if strings.HasPrefix(strings.TrimSpace(ln), "#") {
			continue
		}
		fields := strings.Fields(ln)
		if field < len(fields) && fields[field] == key {
			return true, nil
		}
	}
	return false, nil
}

// EnsureLine appends line to path unless some line already contains key.
// The key is the stable identity of the entry (a hosts line, an apt
// source line), so repeated calls leave exactly one matching line.
// Returns true when the file was changed.
func EnsureLine(path, key, line string) (bool, error) {
	ok, err := HasLine(path, key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := appendLine(path, line); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureEntry appends line to path unless a non-comment line already has
// key as its field'th field. Returns true when the file was changed.
func EnsureEntry(path string, field int, key, line string) (bool, error) {
	ok, err := HasEntry(path, field, key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := appendLine(path, line); err != nil {
		return false, err
	}
	return true, nil
}

func appendLine(path, line string) error {
	data := ""
	if b, err := os.ReadFile(path); err == nil {
		data = string(b)
	}
	if len(data) > 0 && !strings.HasSuffix(data, "\n") {
		data += "\n"
	}
	data += line + "\n"
	return WriteAtomic(path, []byte(data), 0o644)
}

// BackupPath is where Replace keeps the pristine copy of a file.
func BackupPath(path string) string {
	return path + ".bak"
}

// Replace installs newContent at path. The first call copies the original
// to its .bak sibling; an existing backup is never overwritten, so the
// pristine copy survives repeated runs. Returns true when the file content
// changed.
func Replace(path string, newContent []byte, mode os.FileMode) (bool, error) {
	old, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if exists && string(old) == string(newContent) {
		return false, nil
	}
	if exists {
		bak := BackupPath(path)
		if _, err := os.Stat(bak); os.IsNotExist(err) {
			if err := WriteAtomic(bak, old, mode); err != nil {
				return false, fmt.Errorf("backup %s: %w", path, err)
			}
		}
	}
	if err := WriteAtomic(path, newContent, mode); err != nil {
		return false, err
	}
	return true, nil
}

// Copy duplicates src to dst with the given mode.
func Copy(src, dst string, mode os.FileMode) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return WriteAtomic(dst, b, mode)
}
