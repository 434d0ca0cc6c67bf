package templates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mpataki/clerk/internal/models"
	"gopkg.in/yaml.v3"
)

// DirProvider serves templates from YAML or JSON files in a directory, one
// template per file.
type DirProvider struct {
	order     []string
	templates map[string]*models.Template
}

func Parse(path string) (*models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	// JSON is valid YAML, so one decoder covers both formats.
	var tmpl models.Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &tmpl, nil
}

// LoadDir loads every template in dir. Files are visited in name order.
func LoadDir(dir string) (*DirProvider, error) {
	p := &DirProvider{templates: make(map[string]*models.Template)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		path := filepath.Join(dir, name)
		tmpl, err := Parse(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		// Use template id from file, or filename without extension
		if tmpl.ID == "" {
			tmpl.ID = strings.TrimSuffix(name, ext)
		}
		if _, dup := p.templates[tmpl.ID]; dup {
			return nil, fmt.Errorf("template %q defined twice (%s)", tmpl.ID, path)
		}

		p.order = append(p.order, tmpl.ID)
		p.templates[tmpl.ID] = tmpl
	}

	return p, nil
}

func (p *DirProvider) GetTemplate(ctx context.Context, contractType string) (*models.Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tmpl, ok := p.templates[contractType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, contractType)
	}
	return tmpl, nil
}

func (p *DirProvider) ListContractTypes(ctx context.Context) ([]models.ContractType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	types := make([]models.ContractType, 0, len(p.order))
	for _, id := range p.order {
		tmpl := p.templates[id]
		types = append(types, models.ContractType{
			ID:          tmpl.ID,
			Title:       tmpl.Title,
			Description: tmpl.Description,
		})
	}
	return types, nil
}
