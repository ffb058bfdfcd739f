package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}

	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"/var/cache/illustrationd", "/var/cache/illustrationd"},
		{"~", home},
		{"~/models/sdxl.safetensors", filepath.Join(home, "models", "sdxl.safetensors")},
		{"~other/x", "~other/x"},
	}
	for _, tc := range cases {
		got, err := ExpandHome(tc.in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", tc.in, err)
		}
		if got != filepath.FromSlash(tc.want) && got != tc.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStagingDir_RemovedByCleanup(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "work")
	dir, cleanup, err := StagingDir(parent, "req-*")
	if err != nil {
		t.Fatalf("staging: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "in.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cleanup()
	if PathExists(dir) {
		t.Fatalf("staging dir still present: %s", dir)
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("parent not empty: %v", entries)
	}
}

func TestStagingDir_Unique(t *testing.T) {
	parent := t.TempDir()
	a, ca, err := StagingDir(parent, "x-*")
	if err != nil {
		t.Fatal(err)
	}
	defer ca()
	b, cb, err := StagingDir(parent, "x-*")
	if err != nil {
		t.Fatal(err)
	}
	defer cb()
	if a == b {
		t.Fatalf("expected distinct dirs, got %s twice", a)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "sub", "w.bin")
	err := WriteFileAtomic(p, func(f *os.File) error {
		_, err := f.Write([]byte("weights"))
		return err
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil || string(b) != "weights" {
		t.Fatalf("got %q err=%v", b, err)
	}
}

func TestWriteFileAtomic_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "w.bin")
	err := WriteFileAtomic(p, func(f *os.File) error {
		_, _ = f.Write([]byte("half"))
		return os.ErrClosed
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("leftover files: %v", entries)
	}
}
