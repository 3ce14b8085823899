package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested blob does not exist in the namespace.
	ErrNotFound = errors.New("storage: file not found")

	errMissingRoot      = errors.New("storage: root directory is required")
	errInvalidNamespace = errors.New("storage: invalid namespace")
	errMissingContent   = errors.New("storage: content reader is required")
)

const tempPrefix = ".tmp-"

// Manager stores uploaded blobs under a root directory. Each namespace is an
// independent collision domain; stored names never overwrite existing files.
type Manager struct {
	root string
}

// NewManager constructs a Manager rooted at the given directory, creating it
// when absent.
func NewManager(root string) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errMissingRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Manager{root: root}, nil
}

// Store writes content into the namespace under a collision-free variant of
// requestedName and returns the stored name. The content is first written to
// a temporary file and then linked into place, so a name is only ever claimed
// atomically and a crash never leaves a partially written blob visible.
func (m *Manager) Store(namespace, requestedName string, content io.Reader) (string, error) {
	if content == nil {
		return "", errMissingContent
	}
	dir, err := m.namespaceDir(namespace)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := SanitizeName(requestedName)

	tempPath := filepath.Join(dir, tempPrefix+uuid.NewString())
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tempFile, content); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", err
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return "", err
	}
	defer os.Remove(tempPath)

	extension := filepath.Ext(name)
	base := strings.TrimSuffix(name, extension)
	candidate := name
	for counter := 1; ; counter++ {
		err := os.Link(tempPath, filepath.Join(dir, candidate))
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		candidate = fmt.Sprintf("%s_%d%s", base, counter, extension)
	}
}

// Open returns a reader over the stored blob. Missing files map to ErrNotFound.
func (m *Manager) Open(namespace, storedName string) (io.ReadCloser, error) {
	path, err := m.blobPath(namespace, storedName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, storedName)
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Delete removes the stored blob. Deleting an absent blob is not an error.
func (m *Manager) Delete(namespace, storedName string) error {
	path, err := m.blobPath(namespace, storedName)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (m *Manager) blobPath(namespace, storedName string) (string, error) {
	dir, err := m.namespaceDir(namespace)
	if err != nil {
		return "", err
	}
	// Stored names originate from Store, but re-check before touching disk
	// so a corrupted record can never escape the namespace.
	if storedName == "" || storedName != SanitizeName(storedName) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, storedName)
	}
	return filepath.Join(dir, storedName), nil
}

func (m *Manager) namespaceDir(namespace string) (string, error) {
	cleaned := strings.Trim(strings.TrimSpace(namespace), "/")
	if cleaned == "" {
		return "", errInvalidNamespace
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", errInvalidNamespace
		}
	}
	return filepath.Join(m.root, filepath.FromSlash(cleaned)), nil
}

// SanitizeName reduces a user-supplied filename to a filesystem-safe token:
// directory components are stripped and anything outside [A-Za-z0-9._-] is
// collapsed to an underscore.
func SanitizeName(requestedName string) string {
	name := requestedName
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}

	var builder strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '.', r == '_', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
		}
	}

	sanitized := strings.Trim(builder.String(), "._")
	if sanitized == "" {
		return "file"
	}
	return sanitized
}
