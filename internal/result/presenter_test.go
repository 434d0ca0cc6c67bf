package result

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/workspace"
)

func sampleResult() *models.GenerationResult {
	return &models.GenerationResult{
		ContractType:    "rent_contract",
		Title:           "Договір оренди",
		MarkdownContent: "# Договір оренди\n\nОрендодавець: Alice\n",
		HTMLContent:     `<h1>Договір оренди</h1><p onclick="x()">Орендодавець: Alice &amp; Co</p><script>alert(1)</script>`,
		PDFEncoded:      base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test")),
		GeneratedAt:     time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
}

func TestHTMLIsSanitised(t *testing.T) {
	got := New(sampleResult()).HTML()

	if strings.Contains(got, "<script") || strings.Contains(got, "onclick") {
		t.Errorf("unsafe markup survived: %s", got)
	}
	if !strings.Contains(got, "<h1>Договір оренди</h1>") {
		t.Errorf("safe markup lost: %s", got)
	}
}

func TestDocument(t *testing.T) {
	doc := New(sampleResult()).Document()
	if !strings.HasPrefix(doc, "<!DOCTYPE html>") {
		t.Errorf("expected a standalone document, got %q", doc[:20])
	}
	if !strings.Contains(doc, "<title>Договір оренди</title>") {
		t.Error("expected the title in the head")
	}
}

func TestText(t *testing.T) {
	got := New(sampleResult()).Text()
	want := "Договір оренди\nОрендодавець: Alice & Co\n"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}

	res := sampleResult()
	res.HTMLContent = ""
	if got := New(res).Text(); got != res.MarkdownContent {
		t.Errorf("expected markdown fallback, got %q", got)
	}
}

func TestPDF(t *testing.T) {
	data, err := New(sampleResult()).PDF()
	if err != nil {
		t.Fatalf("PDF() failed: %v", err)
	}
	if string(data) != "%PDF-1.4 test" {
		t.Errorf("unexpected PDF bytes %q", data)
	}

	res := sampleResult()
	res.PDFEncoded = ""
	if _, err := New(res).PDF(); !errors.Is(err, ErrNoPDF) {
		t.Errorf("expected ErrNoPDF, got %v", err)
	}

	res.PDFEncoded = "not base64!"
	if _, err := New(res).PDF(); err == nil {
		t.Error("expected decode error")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		title  string
		format models.ExportFormat
		want   string
	}{
		{"Договір оренди", models.FormatPDF, "Договір оренди.pdf"},
		{"", models.FormatMarkdown, "Договір.md"},
		{"   ", models.FormatHTML, "Договір.html"},
		{"Loan 1/2", models.FormatPDF, "Loan 1_2.pdf"},
		{"///", models.FormatPDF, "Договір.pdf"},
	}

	for _, tt := range tests {
		if got := FileName(tt.title, tt.format); got != tt.want {
			t.Errorf("FileName(%q, %s) = %q, want %q", tt.title, tt.format, got, tt.want)
		}
	}
}

func TestExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	paths, err := New(sampleResult()).Export(dir, models.FormatMarkdown, models.FormatPDF)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	want := []string{
		filepath.Join(dir, "Договір оренди.md"),
		filepath.Join(dir, "Договір оренди.pdf"),
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}

	md, _ := os.ReadFile(paths[0])
	if string(md) != sampleResult().MarkdownContent {
		t.Errorf("unexpected markdown %q", md)
	}
}

func TestExportMissingPDFIsExportError(t *testing.T) {
	res := sampleResult()
	res.PDFEncoded = ""

	paths, err := New(res).Export(t.TempDir(), models.FormatMarkdown, models.FormatPDF)

	var exportErr *ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("expected ExportError, got %v", err)
	}
	if exportErr.Format != models.FormatPDF || !errors.Is(err, ErrNoPDF) {
		t.Errorf("unexpected export error %v", exportErr)
	}
	if len(paths) != 1 {
		t.Errorf("expected the markdown export to survive, got %v", paths)
	}
}

func TestExportUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := New(sampleResult()).Export(filepath.Join(file, "sub"), models.FormatMarkdown)
	var exportErr *ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("expected ExportError, got %v", err)
	}
}

func TestParseFormats(t *testing.T) {
	got, err := ParseFormats("md, PDF,markdown,html")
	if err != nil {
		t.Fatal(err)
	}
	want := []models.ExportFormat{models.FormatMarkdown, models.FormatPDF, models.FormatHTML}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("formats mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseFormats("docx"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := ParseFormats(" , "); err == nil {
		t.Error("expected error for empty list")
	}
}

type fakeExportRecorder struct {
	exports []*models.Export
}

func (f *fakeExportRecorder) AddExport(ctx context.Context, contractID string, format models.ExportFormat, path string) (*models.Export, error) {
	e := &models.Export{ID: int64(len(f.exports) + 1), ContractID: contractID, Format: format, Path: path}
	f.exports = append(f.exports, e)
	return e, nil
}

func TestExportContract(t *testing.T) {
	base := t.TempDir()
	c := &models.Contract{ID: "c-1", SessionID: "s-1", Result: *sampleResult()}
	rec := &fakeExportRecorder{}

	if _, err := ExportContract(context.Background(), base, c, rec, models.FormatMarkdown); err != nil {
		t.Fatalf("ExportContract() failed: %v", err)
	}
	if _, err := ExportContract(context.Background(), base, c, rec, models.FormatPDF, models.FormatMarkdown); err != nil {
		t.Fatalf("second ExportContract() failed: %v", err)
	}

	if len(rec.exports) != 3 {
		t.Errorf("expected 3 recorded exports, got %d", len(rec.exports))
	}

	ws, err := workspace.Open(base, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	meta, err := ws.ReadMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Договір оренди.md", "Договір оренди.pdf"}, meta.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if meta.SessionID != "s-1" || meta.ContractType != "rent_contract" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}
