package sink

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDiskSinkWritesAtOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	s, err := New(path, 16, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.Write(ctx, 8, []byte("22222222")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, 0, []byte("11111111")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, []byte("1111111122222222")) {
		t.Fatalf("got %q", got)
	}
}

func TestDiskSinkWriteAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	s, err := New(path, 8, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Write(ctx, 0, []byte("x")); err == nil {
		t.Fatal("expected write after close to fail")
	}
}

func TestDiskSinkPreallocatesDeclaredSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	s, err := New(path, 1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(context.Background())

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 1024 {
		t.Fatalf("expected preallocated size 1024, got %d", info.Size())
	}
}

func TestDiskSourceReadsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.bin")
	if err := os.WriteFile(path, []byte("hello source"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	src, err := OpenSource(path)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer src.Close()

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 || string(buf) != "sourc" {
		t.Fatalf("got %q (n=%d)", buf, n)
	}
}
