// Package storefs is the sole mutator of the registry's on-disk layout. It
// wraps the handful of filesystem primitives the collector needs — listing,
// reading, walking, and deleting — behind a single dry-run switch, so every
// other package computes deletion sets without ever touching os directly.
package storefs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/distribution/registry-gc/internal/dcontext"
)

// Adapter is the single mutating entry point into the store. Every
// destructive call is routed through it so dry-run discipline only needs
// to be enforced in one place.
type Adapter struct {
	dryRun bool
}

// New returns an Adapter. When dryRun is true, RemoveTree and
// RemoveEmptyDirs log their intent and never touch disk.
func New(dryRun bool) *Adapter {
	return &Adapter{dryRun: dryRun}
}

// DryRun reports whether the adapter is operating in dry-run mode.
func (a *Adapter) DryRun() bool {
	return a.dryRun
}

// ListDir returns the direct children of path. It errors if path is not a
// directory.
func (a *Adapter) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("storefs: list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// IsDir reports whether path exists and is a directory.
func (a *Adapter) IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// ReadFile returns the full content of the file at path.
func (a *Adapter) ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storefs: read %s: %w", path, err)
	}
	return b, nil
}

// WalkFunc is called once per regular file found under a Walk root, with
// the containing directory and the file's base name.
type WalkFunc func(dir, name string) error

// Walk depth-first traverses path, invoking fn on every regular file. A
// missing root is treated as "nothing to walk", not an error: callers
// frequently walk tag/index subtrees that are legitimately absent.
func (a *Adapter) Walk(path string, fn WalkFunc) error {
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		return fn(filepath.Dir(p), d.Name())
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// DeleteStats summarizes what a RemoveTree call deleted (or, in dry-run,
// would have deleted). It never influences a deletion decision.
type DeleteStats struct {
	Files int
	Bytes int64
}

// RemoveTree deletes the subtree rooted at path. In dry-run mode it logs
// "would have deleted <path>" and returns success without touching disk.
// A missing path is not an error — the caller already decided to delete
// it, and "already gone" satisfies that intent.
func (a *Adapter) RemoveTree(ctx context.Context, path string) (DeleteStats, error) {
	stats := a.statTree(path)

	if a.dryRun {
		dcontext.GetLogger(ctx).Infof("would have deleted %s", path)
		return stats, nil
	}

	dcontext.GetLogger(ctx).Infof("deleting %s", path)
	if err := os.RemoveAll(path); err != nil {
		return stats, fmt.Errorf("storefs: remove %s: %w", path, err)
	}
	return stats, nil
}

func (a *Adapter) statTree(path string) DeleteStats {
	var stats DeleteStats
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, ferr := d.Info(); ferr == nil {
			stats.Files++
			stats.Bytes += fi.Size()
		}
		return nil
	})
	return stats
}

// RemoveEmptyDirs recursively deletes empty directories under root. root
// itself is always preserved, even when empty. A directory is "empty" only
// when it contains no files and every subdirectory is itself
// deletable-empty.
func (a *Adapter) RemoveEmptyDirs(ctx context.Context, root string) error {
	_, err := a.removeEmptyDirs(ctx, root, true)
	return err
}

func (a *Adapter) removeEmptyDirs(ctx context.Context, dir string, topLevel bool) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("storefs: read %s: %w", dir, err)
	}

	empty := true
	for _, e := range entries {
		child := filepath.Join(dir, e.Name())
		if e.IsDir() {
			childEmpty, err := a.removeEmptyDirs(ctx, child, false)
			if err != nil {
				dcontext.GetLogger(ctx).Errorf("prune: %v", err)
				empty = false
				continue
			}
			if !childEmpty {
				empty = false
			}
		} else {
			empty = false
		}
	}

	if empty && !topLevel {
		if a.dryRun {
			dcontext.GetLogger(ctx).Debugf("would have deleted empty directory %s", dir)
		} else {
			dcontext.GetLogger(ctx).Debugf("deleting empty directory %s", dir)
			if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
				return false, fmt.Errorf("storefs: remove empty dir %s: %w", dir, err)
			}
		}
	}

	return empty, nil
}
