package tui

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mpataki/clerk/internal/logger"
	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/result"
	"github.com/mpataki/clerk/internal/templates"
	"github.com/mpataki/clerk/internal/validator"
	"github.com/mpataki/clerk/internal/wizard"
)

type View int

const (
	ViewCatalog View = iota
	ViewWizard
	ViewHistory
	ViewContract
)

// History is the contract store behind the history views.
type History interface {
	ListContracts(ctx context.Context, limit int) ([]*models.Contract, error)
	GetContract(ctx context.Context, id string) (*models.Contract, error)
	DeleteContract(ctx context.Context, id string) error
	ContractForSession(ctx context.Context, sessionID string) (*models.Contract, error)
	result.ExportRecorder
}

type Deps struct {
	Catalog   templates.Catalog
	Resolver  wizard.Resolver
	Submitter wizard.Submitter
	Validator *validator.Validator
	// History may be nil, which hides the history views.
	History   History
	ExportDir string
}

type App struct {
	deps Deps
	ctx  context.Context

	view   View
	types  []models.ContractType
	cursor int

	session   *wizard.Session
	cancelReq context.CancelFunc
	input     textinput.Model
	area      textarea.Model
	choice    int
	spinner   spinner.Model

	contracts []*models.Contract
	contract  *models.Contract
	presenter *result.Presenter
	viewport  viewport.Model

	status string
	width  int
	height int
	err    error
}

func NewApp(ctx context.Context, deps Deps) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	in := textinput.New()
	in.CharLimit = 500

	area := textarea.New()
	area.ShowLineNumbers = false

	return &App{
		deps:     deps,
		ctx:      ctx,
		view:     ViewCatalog,
		spinner:  sp,
		input:    in,
		area:     area,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
	}
}

func (a *App) Init() tea.Cmd {
	return a.loadCatalog
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case spinner.TickMsg:
		if !a.busy() {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case catalogLoadedMsg:
		a.types = msg.types
		a.err = msg.err
		if a.cursor >= len(a.types) {
			a.cursor = 0
		}
		return a, nil

	case templateLoadedMsg:
		return a.handleTemplateLoaded(msg)

	case submittedMsg:
		return a.handleSubmitted(msg)

	case historyLoadedMsg:
		a.contracts = msg.contracts
		a.err = msg.err
		if a.cursor >= len(a.contracts) {
			a.cursor = max(0, len(a.contracts)-1)
		}
		return a, nil

	case contractLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.contract = msg.contract
		a.showResult(&msg.contract.Result)
		a.view = ViewContract
		return a, nil

	case contractDeletedMsg:
		a.err = msg.err
		return a, a.loadHistory

	case exportedMsg:
		a.status = exportStatus(msg.paths, msg.err)
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		a.abandon()
		return a, tea.Quit
	}

	switch a.view {
	case ViewCatalog:
		return a.handleCatalogKey(msg)
	case ViewWizard:
		return a.handleWizardKey(msg)
	case ViewHistory:
		return a.handleHistoryKey(msg)
	case ViewContract:
		return a.handleContractKey(msg)
	}
	return a, nil
}

func (a *App) handleCatalogKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit

	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}

	case "down", "j":
		if a.cursor < len(a.types)-1 {
			a.cursor++
		}

	case "enter":
		if len(a.types) > 0 && a.cursor < len(a.types) {
			return a, a.startSession(a.types[a.cursor].ID)
		}

	case "r":
		return a, a.loadCatalog

	case "h":
		if a.deps.History != nil {
			a.view = ViewHistory
			a.cursor = 0
			a.err = nil
			return a, a.loadHistory
		}
	}

	return a, nil
}

func (a *App) handleWizardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := a.session

	switch s.Phase() {
	case models.PhaseLoading:
		if msg.String() == "esc" {
			a.leaveWizard()
		}
		return a, nil

	case models.PhaseSubmitting:
		// Input is frozen until the submission resolves.
		if msg.String() == "esc" {
			a.abandon()
			a.syncInput()
		}
		return a, nil

	case models.PhaseResult:
		return a.handleResultKey(msg)

	case models.PhaseFailed:
		switch msg.String() {
		case "r":
			if err := s.Reset(); err == nil {
				a.status = ""
				return a, a.syncInput()
			}
		case "esc", "q":
			a.leaveWizard()
		}
		return a, nil
	}

	field := s.Current()
	switch msg.String() {
	case "esc":
		a.leaveWizard()
		return a, nil

	case "shift+tab":
		a.commitInput()
		s.Retreat()
		return a, a.syncInput()

	case "tab":
		return a.advance()

	case "enter":
		if field.Kind != models.KindTextarea {
			return a.advance()
		}

	case "up":
		if field.Kind == models.KindSelect {
			if a.choice > 0 {
				a.choice--
			}
			return a, nil
		}

	case "down":
		if field.Kind == models.KindSelect {
			if a.choice < len(field.Options)-1 {
				a.choice++
			}
			return a, nil
		}
	}

	var cmd tea.Cmd
	switch field.Kind {
	case models.KindSelect:
	case models.KindTextarea:
		a.area, cmd = a.area.Update(msg)
	default:
		a.input, cmd = a.input.Update(msg)
	}
	return a, cmd
}

func (a *App) handleResultKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		a.leaveWizard()
		return a, nil
	case "n":
		a.session.Reset()
		a.status = ""
		return a, a.syncInput()
	}
	if cmd, ok := a.exportKey(msg.String()); ok {
		return a, cmd
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		a.view = ViewCatalog
		a.cursor = 0
		a.err = nil

	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}

	case "down", "j":
		if a.cursor < len(a.contracts)-1 {
			a.cursor++
		}

	case "enter":
		if c := a.selectedContract(); c != nil {
			return a, a.loadContract(c.ID)
		}

	case "d":
		if c := a.selectedContract(); c != nil {
			return a, a.deleteContract(c.ID)
		}

	case "r":
		return a, a.loadHistory
	}

	return a, nil
}

func (a *App) handleContractKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		a.view = ViewHistory
		a.contract = nil
		a.presenter = nil
		a.status = ""
		return a, nil
	}
	if cmd, ok := a.exportKey(msg.String()); ok {
		return a, cmd
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) exportKey(key string) (tea.Cmd, bool) {
	formats := map[string][]models.ExportFormat{
		"m": {models.FormatMarkdown},
		"w": {models.FormatHTML},
		"p": {models.FormatPDF},
		"a": {models.FormatMarkdown, models.FormatHTML, models.FormatPDF},
	}
	f, ok := formats[key]
	if !ok || a.presenter == nil {
		return nil, false
	}
	return a.export(f), true
}

func (a *App) startSession(contractType string) tea.Cmd {
	a.abandon()
	var opts []wizard.Option
	if a.deps.Validator != nil {
		opts = append(opts, wizard.WithValidator(a.deps.Validator))
	}
	a.session = wizard.New(contractType, opts...)
	a.view = ViewWizard
	a.status = ""
	a.err = nil

	req, err := a.session.BeginLoad()
	if err != nil {
		a.err = err
		return nil
	}
	return tea.Batch(a.runLoad(req), a.spinner.Tick)
}

func (a *App) handleTemplateLoaded(msg templateLoadedMsg) (tea.Model, tea.Cmd) {
	if a.session == nil || !a.session.Owns(msg.req) {
		logger.Debug(a.ctx, "ignoring load for a previous session")
		return a, nil
	}
	if err := a.session.FinishLoad(msg.req, msg.tmpl, msg.err); err != nil {
		if !errors.Is(err, wizard.ErrStale) {
			a.err = err
		}
		return a, nil
	}
	return a, a.syncInput()
}

func (a *App) advance() (tea.Model, tea.Cmd) {
	a.commitInput()

	req, err := a.session.Advance()
	if err != nil {
		a.err = err
		return a, nil
	}
	if req == nil {
		return a, a.syncInput()
	}

	a.input.Blur()
	a.area.Blur()
	return a, tea.Batch(a.runSubmit(req), a.spinner.Tick)
}

func (a *App) handleSubmitted(msg submittedMsg) (tea.Model, tea.Cmd) {
	if a.session == nil || !a.session.Owns(msg.req) {
		logger.Debug(a.ctx, "ignoring submission for a previous session")
		return a, nil
	}
	err := a.session.FinishSubmit(msg.req, msg.result, msg.err)
	if errors.Is(err, wizard.ErrStale) {
		logger.Debug(a.ctx, "ignoring superseded submission", "token", msg.req.Token)
		return a, nil
	}
	if err != nil {
		a.err = err
		return a, nil
	}

	if a.session.Phase() == models.PhaseResult {
		a.showResult(a.session.Result())
		return a, nil
	}
	return a, a.syncInput()
}

// commitInput copies the widget value into the session.
func (a *App) commitInput() {
	field := a.session.Current()
	if field == nil {
		return
	}

	var value any
	switch field.Kind {
	case models.KindSelect:
		if a.choice >= 0 && a.choice < len(field.Options) {
			value = field.Options[a.choice].Value
		}
	case models.KindTextarea:
		value = a.area.Value()
	default:
		value = a.input.Value()
	}
	if str, ok := value.(string); ok && isBlank(str) {
		value = nil
	}
	a.session.SetAnswer(field.ID, value)
}

// syncInput loads the current step's answer into its widget.
func (a *App) syncInput() tea.Cmd {
	field := a.session.Current()
	if field == nil || a.session.Phase() != models.PhaseCollecting {
		return nil
	}

	current := ""
	if v := a.session.Answer(field.ID); v != nil {
		current = validator.Stringify(v)
	}

	switch field.Kind {
	case models.KindSelect:
		a.choice = 0
		for i, opt := range field.Options {
			if opt.Value == current {
				a.choice = i
			}
		}
		return nil
	case models.KindTextarea:
		a.input.Blur()
		a.area.SetValue(current)
		return a.area.Focus()
	default:
		a.area.Blur()
		a.input.SetValue(current)
		a.input.Placeholder = placeholder(field.Kind)
		a.input.CursorEnd()
		return a.input.Focus()
	}
}

func (a *App) showResult(res *models.GenerationResult) {
	a.presenter = result.New(res)
	a.viewport.SetContent(a.presenter.Text())
	a.viewport.GotoTop()
}

// abandon supersedes the session's pending request and cancels its call.
func (a *App) abandon() {
	if a.cancelReq != nil {
		a.cancelReq()
		a.cancelReq = nil
	}
	if a.session != nil {
		a.session.Abandon()
	}
}

func (a *App) leaveWizard() {
	a.abandon()
	a.session = nil
	a.presenter = nil
	a.contract = nil
	a.status = ""
	a.view = ViewCatalog
}

func (a *App) busy() bool {
	if a.session == nil || a.view != ViewWizard {
		return false
	}
	p := a.session.Phase()
	return p == models.PhaseLoading || p == models.PhaseSubmitting
}

func (a *App) selectedContract() *models.Contract {
	if a.cursor >= 0 && a.cursor < len(a.contracts) {
		return a.contracts[a.cursor]
	}
	return nil
}

func (a *App) resize() {
	w := max(a.width-4, 20)
	a.input.Width = w
	a.area.SetWidth(w)
	a.area.SetHeight(max(a.height/3, 3))
	a.viewport.Width = w
	a.viewport.Height = max(a.height-8, 5)
}
