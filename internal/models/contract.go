package models

import "time"

type GenerationResult struct {
	ContractType    string    `json:"contract_type"`
	Title           string    `json:"title"`
	MarkdownContent string    `json:"content_markdown"`
	HTMLContent     string    `json:"content_html"`
	PDFEncoded      string    `json:"content_pdf_base64"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Contract is a generated contract as recorded in the local history.
type Contract struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	Result    GenerationResult
	Exports   []*Export
}

type ExportFormat string

const (
	FormatMarkdown ExportFormat = "md"
	FormatHTML     ExportFormat = "html"
	FormatPDF      ExportFormat = "pdf"
)

type Export struct {
	ID         int64
	ContractID string
	Format     ExportFormat
	Path       string
	ExportedAt time.Time
}
