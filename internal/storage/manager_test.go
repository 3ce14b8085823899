package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	return manager
}

func mustStore(t *testing.T, manager *Manager, namespace, name, content string) string {
	t.Helper()
	stored, err := manager.Store(namespace, name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return stored
}

func TestStoreAvoidsCollisionsWithNumericSuffixes(t *testing.T) {
	manager := newTestManager(t)

	first := mustStore(t, manager, "library", "song.mp3", "first")
	second := mustStore(t, manager, "library", "song.mp3", "second")
	third := mustStore(t, manager, "library", "song.mp3", "third")

	if first != "song.mp3" {
		t.Fatalf("unexpected first stored name %s", first)
	}
	if second != "song_1.mp3" {
		t.Fatalf("unexpected second stored name %s", second)
	}
	if third != "song_2.mp3" {
		t.Fatalf("unexpected third stored name %s", third)
	}

	for stored, want := range map[string]string{first: "first", second: "second", third: "third"} {
		reader, err := manager.Open("library", stored)
		if err != nil {
			t.Fatalf("unexpected open error for %s: %v", stored, err)
		}
		content, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			t.Fatalf("unexpected read error for %s: %v", stored, err)
		}
		if string(content) != want {
			t.Fatalf("stored file %s was overwritten: got %q want %q", stored, content, want)
		}
	}
}

func TestStoreRoundTripsContent(t *testing.T) {
	manager := newTestManager(t)
	payload := bytes.Repeat([]byte{0x49, 0x44, 0x33, 0x04, 0x00}, 4096)

	stored, err := manager.Store("library", "album take.mp3", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	reader, err := manager.Open("library", stored)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer reader.Close()

	roundTripped, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !bytes.Equal(roundTripped, payload) {
		t.Fatalf("round-tripped content differs from original")
	}
}

func TestStoreLeavesNoTemporaryFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	manager, err := NewManager(root)
	if err != nil {
		t.Fatalf("unexpected manager error: %v", err)
	}
	mustStore(t, manager, "library", "clean.mp3", "data")

	entries, err := os.ReadDir(filepath.Join(root, "library"))
	if err != nil {
		t.Fatalf("unexpected readdir error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "clean.mp3" {
		t.Fatalf("expected only clean.mp3 in namespace, got %v", entries)
	}
}

func TestNamespacesAreIndependentCollisionDomains(t *testing.T) {
	manager := newTestManager(t)

	personal := mustStore(t, manager, "library", "song.mp3", "personal")
	team := mustStore(t, manager, "teams/7", "song.mp3", "team")

	if personal != "song.mp3" || team != "song.mp3" {
		t.Fatalf("expected both namespaces to keep the original name, got %s and %s", personal, team)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	manager := newTestManager(t)
	stored := mustStore(t, manager, "library", "gone.mp3", "data")

	if err := manager.Delete("library", stored); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := manager.Delete("library", stored); err != nil {
		t.Fatalf("expected deleting an absent file to succeed, got %v", err)
	}
	if err := manager.Delete("library", "never-existed.mp3"); err != nil {
		t.Fatalf("expected deleting an unknown file to succeed, got %v", err)
	}
}

func TestOpenMissingFileReturnsNotFound(t *testing.T) {
	manager := newTestManager(t)
	if _, err := manager.Open("library", "missing.mp3"); err == nil {
		t.Fatalf("expected not found error")
	} else if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStoreSanitizesDirectoryComponents(t *testing.T) {
	manager := newTestManager(t)

	stored := mustStore(t, manager, "library", "../../etc/passwd evil.mp3", "data")
	if strings.ContainsAny(stored, `/\`) {
		t.Fatalf("stored name retains directory separators: %s", stored)
	}
	if stored != "passwd_evil.mp3" {
		t.Fatalf("unexpected sanitized name %s", stored)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"song.mp3":             "song.mp3",
		"my song (live).mp3":   "my_song__live_.mp3",
		`..\..\windows\fv.mp3`: "fv.mp3",
		"...":                  "file",
		"":                     "file",
		".hidden.mp3":          "hidden.mp3",
	}
	for input, want := range cases {
		if got := SanitizeName(input); got != want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestStoreRejectsInvalidNamespace(t *testing.T) {
	manager := newTestManager(t)
	for _, namespace := range []string{"", "..", "teams/../library", "a//b"} {
		if _, err := manager.Store(namespace, "song.mp3", strings.NewReader("x")); err == nil {
			t.Fatalf("expected namespace %q to be rejected", namespace)
		}
	}
}
