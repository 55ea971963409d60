package featstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store holds tensors addressed by slash-separated keys such as
// "mic_dev/fold5_room1_mix001".
type Store interface {
	Put(key string, t *Tensor) error
	Get(key string) (*Tensor, error)
	// List returns the keys under prefix in lexical order.
	List(prefix string) ([]string, error)
	Close() error
}

// Ext is the file extension used by Dir.
const Ext = ".mpk"

// Dir stores one msgpack file per key below a root directory.
type Dir struct {
	root string
}

// OpenDir creates root if needed.
func OpenDir(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("featstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(d.root, filepath.FromSlash(key)+Ext), nil
}

func (d *Dir) Put(key string, t *Tensor) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	b, err := Marshal(t)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (d *Dir) Get(key string) (*Tensor, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}

func (d *Dir) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || !strings.HasSuffix(p, Ext) {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), Ext)
		if hasKeyPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Dir) Close() error { return nil }

// hasKeyPrefix matches whole path segments so "a/b" does not match "a/bc".
func hasKeyPrefix(key, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(key, prefix+"/")
}

func checkKey(key string) error {
	if key == "" {
		return errors.New("featstore: empty key")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("featstore: invalid key %q", key)
		}
	}
	return nil
}
