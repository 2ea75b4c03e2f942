package utils

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCandidatePathsOrder(t *testing.T) {
	exe := filepath.Join("/opt", "dq", "bin")
	wd := filepath.Join("/home", "me")
	got := CandidatePaths("orders.csv", exe, wd)
	want := []string{
		filepath.Join("/opt", "dq", "bin", "orders.csv"),
		filepath.Join("/opt", "dq", "orders.csv"),
		filepath.Join("/home", "me", "orders.csv"),
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("candidates = %v, want %v", got, want)
	}

	if got := CandidatePaths("orders.csv", wd, wd); len(got) != 2 {
		t.Fatalf("duplicate working dir not dropped: %v", got)
	}
	abs := filepath.Join(t.TempDir(), "x.csv")
	if got := CandidatePaths(abs, exe, wd); len(got) != 1 || got[0] != abs {
		t.Fatalf("absolute name: %v", got)
	}
}

func TestFindDataFile(t *testing.T) {
	root := t.TempDir()
	first := filepath.Join(root, "a", "orders.csv")
	second := filepath.Join(root, "b", "orders.csv")
	if err := os.MkdirAll(filepath.Dir(second), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// a directory with the right name is skipped
	if err := os.MkdirAll(first, 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := FindDataFile("orders.csv", []string{first, second})
	if err != nil {
		t.Fatalf("FindDataFile: %v", err)
	}
	if got != second {
		t.Fatalf("found %q, want %q", got, second)
	}
}

func TestFindDataFileNotFound(t *testing.T) {
	root := t.TempDir()
	cands := []string{filepath.Join(root, "x", "orders.csv"), filepath.Join(root, "orders.csv")}
	_, err := FindDataFile("orders.csv", cands)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
	}
	if len(nf.Checked) != 2 || nf.Name != "orders.csv" {
		t.Fatalf("unexpected error fields: %+v", nf)
	}
	for _, c := range cands {
		if !strings.Contains(err.Error(), c) {
			t.Fatalf("error does not list %s: %v", c, err)
		}
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected errors.Is(err, fs.ErrNotExist)")
	}
}

func TestSafeWriteFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.csv")
	if err := SafeWriteFile(p, []byte("a,b\n")); err != nil {
		t.Fatalf("SafeWriteFile: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil || string(b) != "a,b\n" {
		t.Fatalf("read back %q, %v", b, err)
	}
	if _, err := os.Stat(p + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}
