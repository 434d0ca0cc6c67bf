package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	bannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Bold(true)
)

func (a *App) View() string {
	switch a.view {
	case ViewCatalog:
		return a.viewCatalog()
	case ViewWizard:
		return a.viewWizard()
	case ViewHistory:
		return a.viewHistory()
	case ViewContract:
		return a.viewContract()
	}
	return ""
}

func (a *App) viewCatalog() string {
	s := titleStyle.Render("Clerk") + "\n\n"

	if a.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n\n"
	}

	if len(a.types) == 0 {
		s += "No contract types available.\n"
	} else {
		s += "Choose a contract\n"
		s += "─────────────────\n"

		for i, t := range a.types {
			line := t.Title
			if line == "" {
				line = t.ID
			}
			if i == a.cursor {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
			if t.Description != "" {
				s += "    " + dimStyle.Render(truncate(t.Description, max(a.width-6, 20))) + "\n"
			}
		}
	}

	help := "[enter] start  [r] refresh  [q] quit"
	if a.deps.History != nil {
		help = "[enter] start  [h] history  [r] refresh  [q] quit"
	}
	s += "\n" + helpStyle.Render(help)

	return s
}

func (a *App) viewWizard() string {
	sess := a.session
	title := sess.Title()
	if title == "" {
		title = sess.ContractType()
	}
	s := titleStyle.Render(title) + "\n\n"

	switch sess.Phase() {
	case models.PhaseLoading:
		s += a.spinner.View() + " Loading questions…\n"
		s += "\n" + helpStyle.Render("[esc] cancel")

	case models.PhaseSubmitting:
		s += a.spinner.View() + " Generating contract…\n"
		s += "\n" + helpStyle.Render("[esc] cancel")

	case models.PhaseCollecting:
		s += a.viewStep()

	case models.PhaseResult:
		s += a.viewport.View() + "\n"
		s += a.viewStatus()
		s += "\n" + helpStyle.Render("[↑/↓] scroll  [m] markdown  [w] html  [p] pdf  [a] all  [n] new  [esc] back")

	case models.PhaseFailed:
		s += errorStyle.Render("✗ "+sess.Banner()) + "\n"
		help := "[esc] back"
		if len(sess.Fields()) > 0 {
			help = "[r] start over  [esc] back"
		}
		s += "\n" + helpStyle.Render(help)
	}

	return s
}

func (a *App) viewStep() string {
	sess := a.session
	field := sess.Current()

	s := dimStyle.Render(fmt.Sprintf("Question %d of %d", sess.Step()+1, len(sess.Fields()))) + "\n\n"

	if banner := sess.Banner(); banner != "" {
		s += bannerStyle.Render("! "+banner) + "\n\n"
	}

	label := field.Label
	if field.Required {
		label += " *"
	}
	s += labelStyle.Render(label) + "\n"

	switch field.Kind {
	case models.KindSelect:
		for i, opt := range field.Options {
			if i == a.choice {
				s += selectedStyle.Render("▶ "+opt.Label) + "\n"
			} else {
				s += "  " + opt.Label + "\n"
			}
		}
	case models.KindTextarea:
		s += a.area.View() + "\n"
	default:
		s += a.input.View() + "\n"
	}

	if msg := sess.Error(field.ID); msg != "" {
		s += errorStyle.Render("✗ "+msg) + "\n"
	}

	action := "Next"
	if sess.IsLastStep() {
		action = "Generate"
	}
	keys := fmt.Sprintf("[enter] %s", action)
	if field.Kind == models.KindTextarea {
		keys = fmt.Sprintf("[tab] %s", action)
	} else if field.Kind == models.KindSelect {
		keys = "[↑/↓] choose  " + keys
	}
	if sess.Step() > 0 {
		keys += "  [shift+tab] back"
	}
	s += "\n" + helpStyle.Render(keys+"  [esc] quit wizard")

	return s
}

func (a *App) viewHistory() string {
	s := titleStyle.Render("History") + "\n\n"

	if a.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n\n"
	}

	if len(a.contracts) == 0 {
		s += "No contracts generated yet.\n"
	} else {
		for i, c := range a.contracts {
			line := fmt.Sprintf("%-8s %-10s %s", c.ID[:min(8, len(c.ID))], storage.FormatTimeAgo(c.CreatedAt), c.Result.Title)
			if i == a.cursor {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] open  [d] delete  [r] refresh  [esc] back")

	return s
}

func (a *App) viewContract() string {
	if a.contract == nil {
		return "No contract selected"
	}

	s := titleStyle.Render(a.presenter.Title()) + "  " +
		dimStyle.Render(a.contract.Result.GeneratedAt.Local().Format("2006-01-02 15:04")) + "\n\n"
	s += a.viewport.View() + "\n"
	s += a.viewStatus()
	s += "\n" + helpStyle.Render("[↑/↓] scroll  [m] markdown  [w] html  [p] pdf  [a] all  [esc] back")

	return s
}

func (a *App) viewStatus() string {
	if a.status == "" {
		return ""
	}
	if strings.HasPrefix(a.status, "Saved") {
		return okStyle.Render(a.status) + "\n"
	}
	return errorStyle.Render(a.status) + "\n"
}

func placeholder(kind models.FieldKind) string {
	switch kind {
	case models.KindDate:
		return "YYYY-MM-DD"
	case models.KindNumber:
		return "0"
	case models.KindEmail:
		return "name@example.com"
	case models.KindPhone:
		return "+380…"
	}
	return ""
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
