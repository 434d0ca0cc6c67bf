package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mpataki/clerk/internal/models"
)

var (
	ErrNotFound  = errors.New("contract not found")
	ErrAmbiguous = errors.New("contract id prefix is ambiguous")
)

type Storage struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		contract_type TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		generated_at TIMESTAMP NOT NULL,
		content_markdown TEXT NOT NULL DEFAULT '',
		content_html TEXT NOT NULL DEFAULT '',
		content_pdf_base64 TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS exports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		format TEXT NOT NULL,
		path TEXT NOT NULL,
		exported_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_created ON contracts(created_at);
	CREATE INDEX IF NOT EXISTS idx_exports_contract ON exports(contract_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// RecordResult stores a successful generation and returns the new contract.
func (s *Storage) RecordResult(ctx context.Context, sessionID string, result *models.GenerationResult) (*models.Contract, error) {
	c := &models.Contract{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedAt: s.now().UTC(),
		Result:    *result,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (id, session_id, contract_type, title, created_at, generated_at, content_markdown, content_html, content_pdf_base64)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, result.ContractType, result.Title, c.CreatedAt, result.GeneratedAt,
		result.MarkdownContent, result.HTMLContent, result.PDFEncoded,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert contract: %w", err)
	}
	return c, nil
}

// ListContracts returns the newest contracts first. Document bodies are not
// loaded.
func (s *Storage) ListContracts(ctx context.Context, limit int) ([]*models.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, contract_type, title, created_at, generated_at
		 FROM contracts ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []*models.Contract
	for rows.Next() {
		var c models.Contract
		err := rows.Scan(
			&c.ID, &c.SessionID, &c.Result.ContractType, &c.Result.Title,
			&c.CreatedAt, &c.Result.GeneratedAt,
		)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, &c)
	}

	return contracts, rows.Err()
}

// GetContract loads a contract and its exports by id or unique id prefix.
func (s *Storage) GetContract(ctx context.Context, idOrPrefix string) (*models.Contract, error) {
	id, err := s.resolveID(ctx, idOrPrefix)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, contract_type, title, created_at, generated_at, content_markdown, content_html, content_pdf_base64
		 FROM contracts WHERE id = ?`, id,
	)

	var c models.Contract
	err = row.Scan(
		&c.ID, &c.SessionID, &c.Result.ContractType, &c.Result.Title, &c.CreatedAt, &c.Result.GeneratedAt,
		&c.Result.MarkdownContent, &c.Result.HTMLContent, &c.Result.PDFEncoded,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	}
	if err != nil {
		return nil, err
	}

	c.Exports, err = s.exportsFor(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContractForSession returns the newest contract generated by a wizard
// session.
func (s *Storage) ContractForSession(ctx context.Context, sessionID string) (*models.Contract, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM contracts WHERE session_id = ? AND session_id != '' ORDER BY created_at DESC LIMIT 1`, sessionID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no contract for session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return s.GetContract(ctx, id)
}

func (s *Storage) resolveID(ctx context.Context, idOrPrefix string) (string, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM contracts WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`,
		idOrPrefix, escapeLike(idOrPrefix)+"%",
	)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		if id == idOrPrefix {
			return id, nil
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, idOrPrefix)
	}
}

func (s *Storage) exportsFor(ctx context.Context, contractID string) ([]*models.Export, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_id, format, path, exported_at
		 FROM exports WHERE contract_id = ? ORDER BY id`, contractID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []*models.Export
	for rows.Next() {
		var e models.Export
		if err := rows.Scan(&e.ID, &e.ContractID, &e.Format, &e.Path, &e.ExportedAt); err != nil {
			return nil, err
		}
		exports = append(exports, &e)
	}
	return exports, rows.Err()
}

func (s *Storage) AddExport(ctx context.Context, contractID string, format models.ExportFormat, path string) (*models.Export, error) {
	e := &models.Export{
		ContractID: contractID,
		Format:     format,
		Path:       path,
		ExportedAt: s.now().UTC(),
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (contract_id, format, path, exported_at) VALUES (?, ?, ?, ?)`,
		e.ContractID, e.Format, e.Path, e.ExportedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert export: %w", err)
	}
	e.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Storage) DeleteContract(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM exports WHERE contract_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return tx.Commit()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// FormatTimeAgo renders t relative to now for history listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("Jan 2")
	}
}
