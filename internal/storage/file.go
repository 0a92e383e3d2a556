// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/jeranaias/streamchat/internal/util"
)

// FileKV stores each key as a file under BaseDir.
type FileKV struct {
	// BaseDir is the directory holding one file per key
	BaseDir string

	mu sync.RWMutex
}

// NewFileKV creates the base directory if needed.
func NewFileKV(baseDir string) (*FileKV, error) {
	if baseDir == "" {
		return nil, errors.New("file storage: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, errors.Wrap(err, "file storage: failed to create base directory")
	}
	return &FileKV{BaseDir: baseDir}, nil
}

// Get reads the value of key.
func (f *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "file storage: read %s", key)
	}
	return data, nil
}

// Set writes value atomically.
// RELIABILITY: a crash leaves either the old or the new value, never half.
func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := util.AtomicWriteFile(f.path(key), value, 0600); err != nil {
		return errors.Wrapf(err, "file storage: write %s", key)
	}
	return nil
}

// Delete removes key.
func (f *FileKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "file storage: delete %s", key)
	}
	return nil
}

// Close is a no-op.
func (f *FileKV) Close() error {
	return nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.BaseDir, sanitizeKey(key)+".json")
}

// sanitizeKey keeps keys inside BaseDir and portable across filesystems.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "_"
	}
	return s
}
