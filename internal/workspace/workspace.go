// Package workspace gives every infill request its own upload and output
// directories so concurrent requests never share files.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Conceptual-Machines/infill-api/internal/logger"
	"github.com/google/uuid"
)

const (
	uploadsDir = "uploads"
	outputDir  = "output"

	IntroFileName = "intro.mid"
	OutroFileName = "outro.mid"
)

// Manager creates request workspaces under Root
type Manager struct {
	Root string
}

// NewManager creates a manager rooted at root
func NewManager(root string) *Manager {
	return &Manager{Root: root}
}

// Workspace is one request's pair of directories
type Workspace struct {
	ID        string
	UploadDir string
	OutputDir string
}

// Acquire creates uploads/<id> and output/<id> for a new request
func (m *Manager) Acquire() (*Workspace, error) {
	id := uuid.New().String()
	ws := &Workspace{
		ID:        id,
		UploadDir: filepath.Join(m.Root, uploadsDir, id),
		OutputDir: filepath.Join(m.Root, outputDir, id),
	}

	if err := os.MkdirAll(ws.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := os.MkdirAll(ws.OutputDir, 0o755); err != nil {
		_ = os.RemoveAll(ws.UploadDir)
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return ws, nil
}

// IntroPath is where the intro upload is saved
func (w *Workspace) IntroPath() string {
	return filepath.Join(w.UploadDir, IntroFileName)
}

// OutroPath is where the outro upload is saved
func (w *Workspace) OutroPath() string {
	return filepath.Join(w.UploadDir, OutroFileName)
}

// Release removes both directories. Failures are logged and otherwise ignored.
func (w *Workspace) Release() {
	for _, dir := range []string{w.UploadDir, w.OutputDir} {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to remove request directory", logger.Fields{
				"workspace_id": w.ID,
				"dir":          dir,
				"error":        err.Error(),
			})
			continue
		}
		logger.Debug("Request directory removed", logger.Fields{
			"workspace_id": w.ID,
			"dir":          dir,
		})
	}
}
