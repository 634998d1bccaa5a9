package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type treeEntry struct {
	path    string
	touched time.Time
}

// CleanupStale keeps the keepN most recently touched trees under root and
// removes the others. Locked trees are never removed.
func (m *Manager) CleanupStale(root string, keepN int) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace: %w", err)
	}

	var trees []treeEntry
	for _, entry := range entries {
		if !entry.IsDir() {
			continue // lock markers and their temp files
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		trees = append(trees, treeEntry{path: filepath.Join(root, entry.Name()), touched: info.ModTime()})
	}

	sort.Slice(trees, func(i, j int) bool {
		return trees[i].touched.After(trees[j].touched)
	})

	if keepN < 0 {
		keepN = 0
	}

	var removed []string
	for i, tree := range trees {
		if i < keepN {
			continue
		}

		inUse, err := m.locker.IsInUse(tree.path)
		if err != nil {
			slog.Warn("Skipping tree with unreadable lock", "layer", "workspace", "path", tree.path, "error", err)
			continue
		}
		if inUse {
			slog.Debug("Skipping locked tree", "layer", "workspace", "path", tree.path)
			continue
		}

		if err := os.RemoveAll(tree.path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", tree.path, err)
		}
		removed = append(removed, tree.path)
		slog.Info("Removed stale working tree", "layer", "workspace", "path", tree.path, "touched", tree.touched)
	}
	return removed, nil
}
