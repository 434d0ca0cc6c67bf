package result

import (
	"context"
	"path/filepath"

	"github.com/mpataki/clerk/internal/logger"
	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/workspace"
)

// ExportRecorder records exported files against a stored contract.
type ExportRecorder interface {
	AddExport(ctx context.Context, contractID string, format models.ExportFormat, path string) (*models.Export, error)
}

// ExportContract exports a stored contract into its own workspace under
// baseDir, writes the workspace metadata and records each file. rec may be nil.
func ExportContract(ctx context.Context, baseDir string, c *models.Contract, rec ExportRecorder, formats ...models.ExportFormat) ([]string, error) {
	dir := filepath.Join(baseDir, c.ID)
	paths, exportErr := New(&c.Result).Export(dir, formats...)

	if rec != nil {
		for i, path := range paths {
			if _, err := rec.AddExport(ctx, c.ID, formats[i], path); err != nil {
				logger.Warn(ctx, "failed to record export", "path", path, "error", err)
			}
		}
	}

	if len(paths) > 0 {
		ws := &workspace.Workspace{Path: dir}
		meta := &workspace.Metadata{
			ContractID:   c.ID,
			SessionID:    c.SessionID,
			ContractType: c.Result.ContractType,
			Title:        c.Result.Title,
			GeneratedAt:  c.Result.GeneratedAt,
		}
		if prev, err := ws.ReadMetadata(); err == nil {
			meta.Files = prev.Files
		}
		meta.Files = mergeFiles(meta.Files, paths)
		if err := ws.WriteMetadata(meta); err != nil {
			logger.Warn(ctx, "failed to write export metadata", "dir", dir, "error", err)
		}
	}

	return paths, exportErr
}

func mergeFiles(existing, paths []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	for _, p := range paths {
		name := filepath.Base(p)
		if !seen[name] {
			seen[name] = true
			existing = append(existing, name)
		}
	}
	return existing
}
