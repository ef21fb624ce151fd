package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/proofpack/internal/model"
)

type fakeStore struct {
	mu   sync.Mutex
	puts []string
	err  error
}

func (f *fakeStore) Put(_ context.Context, key, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	f.puts = append(f.puts, key)
	return "https://acct.blob.core.windows.net/evidence/" + key, nil
}

func makeBundle(t *testing.T) model.Bundle {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "999")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "999__01_Attendance.png"), []byte("png"), 0o644)

	path := filepath.Join(root, "999.zip")
	if err := os.WriteFile(path, []byte("zipdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	return model.Bundle{EntityID: "999", Dir: dir, Path: path, Key: "999.zip", Size: 7}
}

func TestMove_Success(t *testing.T) {
	b := makeBundle(t)
	store := &fakeStore{}

	url, err := NewMover(store, nil).Move(context.Background(), b)
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if url != "https://acct.blob.core.windows.net/evidence/999.zip" {
		t.Errorf("unexpected url %s", url)
	}
	if len(store.puts) != 1 || store.puts[0] != "999.zip" {
		t.Errorf("expected one put of 999.zip, got %v", store.puts)
	}
	if _, err := os.Stat(b.Path); !os.IsNotExist(err) {
		t.Error("archive should be removed after upload")
	}
	if _, err := os.Stat(b.Dir); !os.IsNotExist(err) {
		t.Error("entity directory should be removed after upload")
	}
}

func TestMove_FailureKeepsLocalFiles(t *testing.T) {
	b := makeBundle(t)
	store := &fakeStore{err: ErrVerify}

	if _, err := NewMover(store, nil).Move(context.Background(), b); !errors.Is(err, ErrVerify) {
		t.Fatalf("expected ErrVerify, got %v", err)
	}
	if _, err := os.Stat(b.Path); err != nil {
		t.Error("archive must be retained on failure")
	}
	if _, err := os.Stat(b.Dir); err != nil {
		t.Error("entity directory must be retained on failure")
	}
}

func TestDirStore_Put(t *testing.T) {
	b := makeBundle(t)
	store, err := NewDirStore(filepath.Join(t.TempDir(), "remote"))
	if err != nil {
		t.Fatal(err)
	}

	url, err := store.Put(context.Background(), b.Key, b.Path)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "/999.zip") {
		t.Errorf("unexpected url %s", url)
	}

	data, err := os.ReadFile(filepath.Join(store.dir, "999.zip"))
	if err != nil || string(data) != "zipdata" {
		t.Errorf("stored object mismatch: %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(store.dir, "999.zip.part")); !os.IsNotExist(err) {
		t.Error("temporary object left behind")
	}
}

func TestDirStore_MissingSource(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(context.Background(), "1.zip", filepath.Join(t.TempDir(), "1.zip")); err == nil {
		t.Error("expected error for missing archive")
	}
}

func TestNew_Provider(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, model.StorageConfig{Provider: "dir", Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("dir provider failed: %v", err)
	}
	if _, ok := s.(*DirStore); !ok {
		t.Errorf("expected DirStore, got %T", s)
	}

	if _, err := New(ctx, model.StorageConfig{Provider: "s3"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(ctx, model.StorageConfig{Provider: "azure", Container: "evidence"}, nil); err == nil {
		t.Error("expected error without connection string")
	}
	if _, err := New(ctx, model.StorageConfig{Provider: "dir"}, nil); err == nil {
		t.Error("expected error without directory")
	}
}
