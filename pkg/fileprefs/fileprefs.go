// Package fileprefs provides a settings store which keeps each namespace in a
// YAML file on disk.
//
// The values of a namespace are stored in <Path>/<namespace>.yaml as a flat
// mapping. Files are replaced atomically on every Set by writing a temporary
// file in the same directory and renaming it, so a crash never leaves a
// partially written document behind. The files are only readable by the
// owner since they may contain URIs of private folders.
//
// A FileStore is safe for concurrent use inside one process. Multiple
// processes sharing the same directory may lose updates.
package fileprefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tus/doctree/pkg/bridge"
)

const (
	defaultFilePerm = os.FileMode(0600)
	defaultDirPerm  = os.FileMode(0700)
)

// See the package documentation for details.
type FileStore struct {
	// Relative or absolute path to the directory containing the namespace
	// files. It is created on the first write if it does not exist.
	Path string

	mutex sync.Mutex
}

// New creates a new file based settings store. The directory and permissions
// are not checked until the first operation.
func New(path string) *FileStore {
	return &FileStore{Path: path}
}

// UseIn sets this store as the settings store in the passed composer.
func (store *FileStore) UseIn(composer *bridge.Composer) {
	composer.UseSettings(store)
}

func (store *FileStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	path, err := store.namespacePath(namespace)
	if err != nil {
		return "", false, err
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	values, err := readNamespace(path)
	if err != nil {
		return "", false, err
	}

	value, ok := values[key]
	return value, ok, nil
}

func (store *FileStore) Set(ctx context.Context, namespace, key, value string) error {
	path, err := store.namespacePath(namespace)
	if err != nil {
		return err
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	values, err := readNamespace(path)
	if err != nil {
		return err
	}
	values[key] = value

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("fileprefs: failed to marshal namespace %s: %w", namespace, err)
	}

	if err := os.MkdirAll(store.Path, defaultDirPerm); err != nil {
		return fmt.Errorf("fileprefs: failed to create directory: %w", err)
	}
	return writeFileAtomic(path, data)
}

// namespacePath returns the path to the file of the namespace. Namespaces
// which cannot be used as file names are rejected.
func (store *FileStore) namespacePath(namespace string) (string, error) {
	if namespace == "" || namespace == "." || namespace == ".." || strings.ContainsAny(namespace, `/\`) {
		return "", fmt.Errorf("fileprefs: invalid namespace %q", namespace)
	}
	return filepath.Join(store.Path, namespace+".yaml"), nil
}

// readNamespace parses the file of a namespace. A missing file is treated as
// an empty namespace.
func readNamespace(path string) (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fileprefs: failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("fileprefs: failed to parse %s: %w", path, err)
	}
	// An empty document unmarshals into a nil map.
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("fileprefs: failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fileprefs: failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fileprefs: failed to replace %s: %w", path, err)
	}
	return nil
}
