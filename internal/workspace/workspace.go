// Package workspace manages export directories: one per generated contract,
// holding the exported documents and a contract.json describing them.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const metadataFile = "contract.json"

type Workspace struct {
	Path string
}

type Metadata struct {
	ContractID   string    `json:"contract_id"`
	SessionID    string    `json:"session_id,omitempty"`
	ContractType string    `json:"contract_type"`
	Title        string    `json:"title"`
	GeneratedAt  time.Time `json:"generated_at"`
	Files        []string  `json:"files"`
}

// Create makes dir (and parents) and returns a workspace rooted there.
func Create(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return &Workspace{Path: dir}, nil
}

// ForContract creates the workspace for a contract under baseDir.
func ForContract(baseDir, contractID string) (*Workspace, error) {
	return Create(filepath.Join(baseDir, contractID))
}

func Open(baseDir, contractID string) (*Workspace, error) {
	path := filepath.Join(baseDir, contractID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace for contract %s does not exist", contractID)
	}

	return &Workspace{Path: path}, nil
}

// WriteFile writes data to name inside the workspace via a temporary file so
// a failed write never leaves a truncated document. It returns the final path.
func (w *Workspace) WriteFile(name string, data []byte) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	path := filepath.Join(w.Path, name)

	tmp, err := os.CreateTemp(w.Path, ".export-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	return path, nil
}

func (w *Workspace) WriteMetadata(meta *Metadata) error {
	path := filepath.Join(w.Path, metadataFile)

	data, err := sonic.ConfigStd.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal contract metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", metadataFile, err)
	}

	return nil
}

func (w *Workspace) ReadMetadata() (*Metadata, error) {
	path := filepath.Join(w.Path, metadataFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no %s in %s", metadataFile, w.Path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", metadataFile, err)
	}

	var meta Metadata
	if err := sonic.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", metadataFile, err)
	}

	return &meta, nil
}
