package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/clerk/internal/config"
	"github.com/mpataki/clerk/internal/logger"
	"github.com/mpataki/clerk/internal/lua"
	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/orchestrator"
	"github.com/mpataki/clerk/internal/prompt"
	"github.com/mpataki/clerk/internal/remote"
	"github.com/mpataki/clerk/internal/result"
	"github.com/mpataki/clerk/internal/storage"
	"github.com/mpataki/clerk/internal/templates"
	"github.com/mpataki/clerk/internal/tui"
	"github.com/mpataki/clerk/internal/validator"
	"github.com/mpataki/clerk/internal/wizard"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clerk",
		Short:        "Contract questionnaire client",
		Long:         "Clerk walks through a contract template one question at a time and generates the contract with the contract service.",
		SilenceUsage: true,
		RunE:         runTUI,
	}

	rootCmd.PersistentFlags().String("api", "", "Contract service base URL (overrides config)")
	rootCmd.PersistentFlags().String("templates", "", "Load templates from a directory instead of the service")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr at debug level")

	rootCmd.AddCommand(newTypesCommand())
	rootCmd.AddCommand(newTemplateCommand())
	rootCmd.AddCommand(newFillCommand())
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newDeleteCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// env holds everything a command needs, built from config and flags.
type env struct {
	cfg       *config.Config
	client    *remote.Client
	provider  templates.Provider
	catalog   templates.Catalog
	resolver  *templates.Resolver
	validator *validator.Validator
	store     *storage.Storage
	orch      *orchestrator.Orchestrator
	closers   []io.Closer
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
}

func (e *env) newSession(contractType string) *wizard.Session {
	return wizard.New(contractType, wizard.WithValidator(e.validator))
}

// setup loads config, installs the logger and wires the service stack. The
// TUI owns the terminal, so logs go to the log file unless --verbose is set.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if api, _ := cmd.Flags().GetString("api"); api != "" {
		cfg.API.BaseURL = api
	}
	if dir, _ := cmd.Flags().GetString("templates"); dir != "" {
		cfg.TemplatesDir = dir
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	e := &env{cfg: cfg}

	logCfg := &logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logCfg.Level = "debug"
		logger.Init(logCfg, os.Stderr)
	} else {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		e.closers = append(e.closers, f)
		logger.Init(logCfg, f)
	}

	e.client = remote.New(cfg.API.BaseURL,
		remote.WithTimeout(cfg.API.Timeout),
		remote.WithRetries(cfg.API.Retries),
	)
	e.provider = e.client
	e.catalog = e.client

	if cfg.TemplatesDir != "" {
		dir, err := templates.LoadDir(cfg.TemplatesDir)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		e.provider = dir
		e.catalog = dir
	}

	e.resolver = templates.NewResolver(e.provider, templates.WithVisibility(lua.NewEvaluator()))
	e.validator = validator.New(cfg.Locale.PhoneRegion)

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e.store = store
	e.closers = append(e.closers, store)

	e.orch = orchestrator.New(e.client,
		orchestrator.WithValidator(e.validator),
		orchestrator.WithRecorder(store),
		orchestrator.WithTimeouts(cfg.API.Timeout, cfg.API.GenerateTimeout),
	)

	return e, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	app := tui.NewApp(cmd.Context(), tui.Deps{
		Catalog:   e.catalog,
		Resolver:  e.resolver,
		Submitter: e.orch,
		Validator: e.validator,
		History:   e.store,
		ExportDir: e.cfg.ExportDir,
	})
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List available contract types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			types, err := e.catalog.ListContractTypes(ctx)
			if err != nil {
				return fmt.Errorf("failed to list contract types: %w", err)
			}

			for _, t := range types {
				fmt.Printf("%-20s %s\n", t.ID, t.Title)
				if t.Description != "" {
					fmt.Printf("%-20s %s\n", "", truncate(t.Description, 70))
				}
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose && e.cfg.TemplatesDir == "" {
				health, err := e.client.Health(ctx)
				if err != nil {
					fmt.Printf("\nService: %s unreachable (%v)\n", e.cfg.API.BaseURL, err)
					return nil
				}
				fmt.Printf("\nService: %s %s, %d templates loaded\n", e.cfg.API.BaseURL, health.Status, health.TemplatesLoaded)
			}
			return nil
		},
	}
}

func newTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template <type>",
		Short: "Print a contract template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			var tmpl *models.Template
			if raw, _ := cmd.Flags().GetBool("raw"); raw {
				tmpl, err = e.provider.GetTemplate(cmd.Context(), args[0])
			} else {
				tmpl, err = e.resolver.Resolve(cmd.Context(), args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to load template: %w", err)
			}

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(tmpl)
		},
	}

	cmd.Flags().Bool("raw", false, "Include conditional fields as served")
	return cmd
}

func newFillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill <type>",
		Short: "Answer a contract questionnaire in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			sets, _ := cmd.Flags().GetStringArray("set")
			seed, err := parseSets(sets)
			if err != nil {
				return err
			}
			formats, err := exportFlag(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var resolver wizard.Resolver = e.resolver
			if len(seed) > 0 {
				resolver = seededResolver{resolver: e.resolver, seed: seed}
			}
			driver := wizard.NewDriver(resolver, e.orch)

			s := e.newSession(args[0])
			if err := driver.Load(ctx, s); err != nil {
				return fmt.Errorf("failed to load template: %w", err)
			}
			for id, value := range seed {
				if s.SetAnswer(id, value) == nil {
					logger.Debug(wizard.Context(ctx, s), "prefilled answer", "field", id)
				}
			}

			runner := prompt.NewRunner(prompt.NewSurveyDriver(os.Stdout), driver)
			if err := runner.Run(ctx, s); err != nil {
				if errors.Is(err, prompt.ErrAborted) {
					fmt.Println("Aborted.")
					return nil
				}
				return err
			}

			return finish(ctx, e, s, formats)
		},
	}

	cmd.Flags().StringArray("set", nil, "Seed an answer (key=value); also selects conditional fields")
	cmd.Flags().String("export", "", "Export formats after generation (md,html,pdf)")
	return cmd
}

func newGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <type>",
		Short: "Generate a contract from an answers file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("answers")
			if path == "" {
				return errors.New("--answers is required")
			}
			answers, err := readAnswers(path)
			if err != nil {
				return err
			}
			formats, err := exportFlag(cmd)
			if err != nil {
				return err
			}

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			driver := wizard.NewDriver(seededResolver{resolver: e.resolver, seed: answers}, e.orch)
			s := e.newSession(args[0])

			if err := driver.Load(ctx, s); err != nil {
				return fmt.Errorf("failed to load template: %w", err)
			}
			if err := driver.Fill(ctx, s, answers); err != nil {
				var incomplete *wizard.IncompleteError
				if errors.As(err, &incomplete) {
					printErrors(s.Fields(), incomplete)
				}
				return err
			}

			return finish(ctx, e, s, formats)
		},
	}

	cmd.Flags().StringP("answers", "a", "", "YAML or JSON file mapping field ids to answers")
	cmd.Flags().String("export", "", "Export formats after generation (md,html,pdf)")
	return cmd
}

// finish prints the generated contract and exports it when formats are set.
func finish(ctx context.Context, e *env, s *wizard.Session, formats []models.ExportFormat) error {
	res := s.Result()
	if res == nil {
		return errors.New("no contract was generated")
	}

	p := result.New(res)
	fmt.Println(p.Text())
	fmt.Println()

	if len(formats) == 0 {
		return nil
	}

	c, err := e.store.ContractForSession(ctx, s.ID())
	if err != nil {
		// Not recorded; export the bare result under the session id.
		paths, err := p.Export(filepath.Join(e.cfg.ExportDir, s.ID()), formats...)
		printPaths(paths)
		return err
	}

	paths, err := result.ExportContract(ctx, e.cfg.ExportDir, c, e.store, formats...)
	printPaths(paths)
	if err != nil {
		return err
	}
	fmt.Printf("Contract %s\n", c.ID[:8])
	return nil
}

// seededResolver resolves templates with conditional fields evaluated
// against seed answers.
type seededResolver struct {
	resolver *templates.Resolver
	seed     models.AnswerMap
}

func (r seededResolver) Resolve(ctx context.Context, contractType string) (*models.Template, error) {
	return r.resolver.ResolveWithSeed(ctx, contractType, r.seed)
}

func parseSets(sets []string) (models.AnswerMap, error) {
	seed := models.AnswerMap{}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		seed[strings.TrimSpace(key)] = value
	}
	return seed, nil
}

// readAnswers reads a YAML (or JSON) answers file. Values are kept as the
// strings a user would have typed.
func readAnswers(path string) (models.AnswerMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read answers file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse answers file %s: %w", path, err)
	}

	answers := make(models.AnswerMap, len(raw))
	for k, v := range raw {
		if v == nil {
			answers[k] = nil
			continue
		}
		answers[k] = validator.Stringify(v)
	}
	return answers, nil
}

func exportFlag(cmd *cobra.Command) ([]models.ExportFormat, error) {
	s, _ := cmd.Flags().GetString("export")
	if s == "" {
		return nil, nil
	}
	return result.ParseFormats(s)
}

func printErrors(fields []*models.Field, incomplete *wizard.IncompleteError) {
	if incomplete.Banner != "" {
		fmt.Fprintf(os.Stderr, "! %s\n", incomplete.Banner)
	}
	for _, f := range fields {
		if msg, ok := incomplete.Errors[f.ID]; ok {
			fmt.Fprintf(os.Stderr, "✗ %s (%s): %s\n", f.Label, f.ID, msg)
		}
	}
}

func printPaths(paths []string) {
	for _, p := range paths {
		fmt.Printf("Saved %s\n", p)
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
