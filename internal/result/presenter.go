// Package result renders a generated contract and exports it to files.
package result

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/workspace"
)

// DefaultTitle names downloads when the contract has no title.
const DefaultTitle = "Договір"

var ErrNoPDF = errors.New("the result carries no PDF document")

var (
	ugcPolicy    = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()

	blockEnd   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|table|ul|ol)>|<br\s*/?>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	unsafeName = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]+`)
)

// ExportError reports a failed export. It never invalidates the result.
type ExportError struct {
	Format models.ExportFormat
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to export %s to %s: %v", e.Format, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to export %s: %v", e.Format, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

type Presenter struct {
	result *models.GenerationResult
}

func New(result *models.GenerationResult) *Presenter {
	return &Presenter{result: result}
}

func (p *Presenter) Result() *models.GenerationResult {
	return p.result
}

func (p *Presenter) Title() string {
	if t := strings.TrimSpace(p.result.Title); t != "" {
		return t
	}
	return DefaultTitle
}

func (p *Presenter) Markdown() string {
	return p.result.MarkdownContent
}

// HTML returns the generated html with scripts and unsafe attributes removed.
func (p *Presenter) HTML() string {
	return ugcPolicy.Sanitize(p.result.HTMLContent)
}

// Document wraps HTML in a standalone page.
func (p *Presenter) Document() string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(p.Title()))
	b.WriteString(documentStyle)
	b.WriteString("</head>\n<body>\n")
	b.WriteString(p.HTML())
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}

// Text returns a plain rendering for terminals: the html with tags stripped,
// or the markdown when there is no html.
func (p *Presenter) Text() string {
	if strings.TrimSpace(p.result.HTMLContent) == "" {
		return p.result.MarkdownContent
	}
	s := blockEnd.ReplaceAllString(p.result.HTMLContent, "$0\n")
	s = html.UnescapeString(strictPolicy.Sanitize(s))

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s) + "\n"
}

func (p *Presenter) HasPDF() bool {
	return strings.TrimSpace(p.result.PDFEncoded) != ""
}

func (p *Presenter) PDF() ([]byte, error) {
	if !p.HasPDF() {
		return nil, ErrNoPDF
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(p.result.PDFEncoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PDF: %w", err)
	}
	return data, nil
}

// Content returns the bytes written when exporting format.
func (p *Presenter) Content(format models.ExportFormat) ([]byte, error) {
	switch format {
	case models.FormatMarkdown:
		return []byte(p.Markdown()), nil
	case models.FormatHTML:
		return []byte(p.Document()), nil
	case models.FormatPDF:
		return p.PDF()
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// Export writes each format into dir and returns the written paths. It stops
// at the first failure, which is always an *ExportError.
func (p *Presenter) Export(dir string, formats ...models.ExportFormat) ([]string, error) {
	ws, err := workspace.Create(dir)
	if err != nil {
		var format models.ExportFormat
		if len(formats) > 0 {
			format = formats[0]
		}
		return nil, &ExportError{Format: format, Path: dir, Err: err}
	}

	var paths []string
	for _, format := range formats {
		data, err := p.Content(format)
		if err != nil {
			return paths, &ExportError{Format: format, Err: err}
		}
		name := FileName(p.result.Title, format)
		path, err := ws.WriteFile(name, data)
		if err != nil {
			return paths, &ExportError{Format: format, Path: name, Err: err}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// FileName is the download name for a contract: its title, or DefaultTitle,
// with the format's extension.
func FileName(title string, format models.ExportFormat) string {
	name := strings.TrimSpace(unsafeName.ReplaceAllString(title, "_"))
	name = strings.Trim(name, ". ")
	if name == "" || strings.Trim(name, "_") == "" {
		name = DefaultTitle
	}
	return name + "." + string(format)
}

// ParseFormats parses a comma separated list such as "md,pdf".
func ParseFormats(s string) ([]models.ExportFormat, error) {
	var formats []models.ExportFormat
	seen := make(map[models.ExportFormat]bool)
	for _, part := range strings.Split(s, ",") {
		f := models.ExportFormat(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case "":
			continue
		case "markdown":
			f = models.FormatMarkdown
		case models.FormatMarkdown, models.FormatHTML, models.FormatPDF:
		default:
			return nil, fmt.Errorf("unknown export format %q", part)
		}
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	if len(formats) == 0 {
		return nil, errors.New("no export formats given")
	}
	return formats, nil
}

const documentStyle = `<style>
body { font-family: "Times New Roman", serif; max-width: 48em; margin: 2em auto; line-height: 1.5; }
h1, h2, h3 { text-align: center; }
table { border-collapse: collapse; width: 100%; }
td, th { border: 1px solid #999; padding: 0.3em 0.6em; }
</style>
`
