package utils

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir ensures the provided directory exists.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// SafeWriteFile writes data to a temp file and atomically renames it into place.
func SafeWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// PrettyJSON marshals a value as indented JSON.
func PrettyJSON(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return b, nil
}

// NotFoundError reports a data file missing from every candidate location.
type NotFoundError struct {
	Name    string
	Checked []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in expected locations (checked: %s)", e.Name, strings.Join(e.Checked, ", "))
}

// Is lets errors.Is(err, fs.ErrNotExist) match.
func (e *NotFoundError) Is(target error) bool { return target == fs.ErrNotExist }

// CandidatePaths lists where name is looked for, in order: exeDir, its
// parent, then wd. An absolute name is its only candidate. Duplicates are dropped.
func CandidatePaths(name, exeDir, wd string) []string {
	if filepath.IsAbs(name) {
		return []string{filepath.Clean(name)}
	}
	var out []string
	seen := map[string]bool{}
	add := func(dir string) {
		if dir == "" {
			return
		}
		p := filepath.Join(dir, name)
		if seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	if exeDir != "" {
		add(exeDir)
		add(filepath.Join(exeDir, ".."))
	}
	add(wd)
	return out
}

// DataFileCandidates resolves the executable directory and working directory
// and returns CandidatePaths for name.
func DataFileCandidates(name string) []string {
	var exeDir string
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		exeDir = filepath.Dir(exe)
	}
	wd, _ := os.Getwd()
	return CandidatePaths(name, exeDir, wd)
}

// FindDataFile returns the first candidate that is a regular file, or a
// *NotFoundError listing every candidate.
func FindDataFile(name string, candidates []string) (string, error) {
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", &NotFoundError{Name: filepath.Base(name), Checked: append([]string(nil), candidates...)}
}
