package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mpataki/clerk/internal/logger"
	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/result"
	"github.com/mpataki/clerk/internal/wizard"
)

// Messages

type catalogLoadedMsg struct {
	types []models.ContractType
	err   error
}

type templateLoadedMsg struct {
	req  *wizard.Request
	tmpl *models.Template
	err  error
}

type submittedMsg struct {
	req    *wizard.Request
	result *models.GenerationResult
	err    error
}

type historyLoadedMsg struct {
	contracts []*models.Contract
	err       error
}

type contractLoadedMsg struct {
	contract *models.Contract
	err      error
}

type contractDeletedMsg struct {
	id  string
	err error
}

type exportedMsg struct {
	paths []string
	err   error
}

// Commands

func (a *App) loadCatalog() tea.Msg {
	types, err := a.deps.Catalog.ListContractTypes(a.ctx)
	return catalogLoadedMsg{types: types, err: err}
}

// requestContext derives a cancellable context for one request, replacing
// any previous one.
func (a *App) requestContext() context.Context {
	ctx, cancel := context.WithCancel(wizard.Context(a.ctx, a.session))
	a.cancelReq = cancel
	return ctx
}

func (a *App) runLoad(req *wizard.Request) tea.Cmd {
	ctx := a.requestContext()
	return func() tea.Msg {
		tmpl, err := a.deps.Resolver.Resolve(ctx, req.ContractType)
		if err != nil {
			logger.Warn(ctx, "template load failed", "error", err)
		}
		return templateLoadedMsg{req: req, tmpl: tmpl, err: err}
	}
}

func (a *App) runSubmit(req *wizard.Request) tea.Cmd {
	ctx := a.requestContext()
	return func() tea.Msg {
		res, err := a.deps.Submitter.Submit(ctx, req.ContractType, req.Fields, req.Answers)
		return submittedMsg{req: req, result: res, err: err}
	}
}

func (a *App) loadHistory() tea.Msg {
	contracts, err := a.deps.History.ListContracts(a.ctx, 50)
	return historyLoadedMsg{contracts: contracts, err: err}
}

func (a *App) loadContract(id string) tea.Cmd {
	return func() tea.Msg {
		c, err := a.deps.History.GetContract(a.ctx, id)
		return contractLoadedMsg{contract: c, err: err}
	}
}

func (a *App) deleteContract(id string) tea.Cmd {
	return func() tea.Msg {
		return contractDeletedMsg{id: id, err: a.deps.History.DeleteContract(a.ctx, id)}
	}
}

// export writes the presented result. Stored contracts are exported into
// their own workspace and recorded; a result that never reached the history
// is exported under the session id.
func (a *App) export(formats []models.ExportFormat) tea.Cmd {
	contract := a.contract
	presenter := a.presenter
	var sessionID string
	if a.session != nil {
		sessionID = a.session.ID()
	}

	return func() tea.Msg {
		if contract == nil && sessionID != "" && a.deps.History != nil {
			if c, err := a.deps.History.ContractForSession(a.ctx, sessionID); err == nil {
				contract = c
			}
		}
		if contract != nil {
			var rec result.ExportRecorder
			if a.deps.History != nil {
				rec = a.deps.History
			}
			paths, err := result.ExportContract(a.ctx, a.deps.ExportDir, contract, rec, formats...)
			return exportedMsg{paths: paths, err: err}
		}
		paths, err := presenter.Export(filepath.Join(a.deps.ExportDir, sessionID), formats...)
		return exportedMsg{paths: paths, err: err}
	}
}

func exportStatus(paths []string, err error) string {
	var b strings.Builder
	if len(paths) > 0 {
		fmt.Fprintf(&b, "Saved %s", strings.Join(paths, ", "))
	}
	if err != nil {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}
