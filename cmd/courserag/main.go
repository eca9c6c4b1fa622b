package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"courserag/internal/config"
	"courserag/internal/mcpserver"
	"courserag/internal/service"
	"courserag/internal/tui"
)

var version = "dev"

var (
	// Global flags
	cfgPath string
	verbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "courserag",
	Short: "Answer questions about course transcripts",
	Long: `courserag indexes plain-text course transcripts and answers questions
about them with a language model that can search the index.

Transcripts start with three header lines (title, link, instructor) followed
by "Lesson N: title" sections.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		// The chat UI owns the terminal, so its logs go to a file.
		if cmd.Name() == "chat" {
			path := config.DataPath("chat.log")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			zc.OutputPaths = []string{path}
			zc.ErrorOutputPaths = []string{path}
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Ingest transcript files, directories or globs",
	Long: `Parses each transcript and replaces its course in the index.

Directories are walked for .txt files. A file that fails to parse is reported
and the rest of the batch continues.

Examples:
  courserag ingest docs/
  courserag ingest --clear "docs/*.txt"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Answer one question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "List the indexed courses",
	Args:  cobra.NoArgs,
	RunE:  runCourses,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the course tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

var (
	clearFirst bool
	force      bool
	sessionID  string
	docsDir    string
	summaries  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config (default ./config.yaml or ~/.config/courserag/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	ingestCmd.Flags().BoolVar(&clearFirst, "clear", false, "Remove every course before ingesting")
	ingestCmd.Flags().BoolVar(&force, "force", false, "Re-ingest courses that are already indexed")

	askCmd.Flags().StringVar(&sessionID, "session", "", "Session id to continue (a new one is created when empty)")
	chatCmd.Flags().StringVar(&sessionID, "session", "", "Session id to continue")
	for _, c := range []*cobra.Command{askCmd, chatCmd, mcpCmd} {
		c.Flags().StringVar(&docsDir, "docs", "", "Directory of transcripts to ingest before starting (default from config)")
		c.Flags().BoolVar(&force, "force", false, "Re-ingest courses from --docs that are already indexed")
	}

	coursesCmd.Flags().BoolVar(&summaries, "summaries", false, "Print each course's summary")

	rootCmd.AddCommand(ingestCmd, askCmd, chatCmd, coursesCmd, mcpCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfig() (*config.AppConfig, error) {
	if cfgPath == "" {
		cfg, path, err := config.LoadDefault()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Debug("config loaded", zap.String("path", path))
		return cfg, nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if clearFirst {
		if err := a.service.ClearAll(ctx); err != nil {
			return err
		}
		logger.Info("index cleared")
	}
	reports, err := a.service.IngestPaths(ctx, args, service.IngestOptions{SkipExisting: !force})
	if err != nil {
		return err
	}
	printReports(cmd, reports)
	for _, r := range reports {
		if r.Err != nil {
			return fmt.Errorf("some files failed to ingest")
		}
	}
	return nil
}

func printReports(cmd *cobra.Command, reports []service.IngestReport) {
	out := cmd.OutOrStdout()
	for _, r := range reports {
		switch {
		case r.Err != nil:
			fmt.Fprintf(out, "FAIL  %s: %v\n", r.Path, r.Err)
		case r.DuplicateOf != "":
			fmt.Fprintf(out, "SKIP  %s (%s duplicates %s)\n", r.Path, r.Course.Title, r.DuplicateOf)
		case r.Skipped:
			fmt.Fprintf(out, "SKIP  %s (%s already indexed)\n", r.Path, r.Course.Title)
		default:
			note := ""
			if r.DecodeFallback {
				note = ", invalid UTF-8 replaced"
			}
			fmt.Fprintf(out, "OK    %s: %s (%d lessons, %d chunks%s)\n",
				r.Path, r.Course.Title, len(r.Course.Lessons), r.Chunks, note)
		}
	}
}

// preload ingests the docs directory for commands that serve questions.
func preload(ctx context.Context, a *app) {
	dir := docsDir
	if dir == "" {
		dir = a.cfg.Ingest.DocsDir
	}
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); err != nil {
		logger.Warn("docs directory unavailable", zap.String("dir", dir), zap.Error(err))
		return
	}
	reports, err := a.service.IngestPaths(ctx, []string{dir}, service.IngestOptions{SkipExisting: !force})
	if err != nil {
		logger.Warn("docs ingestion failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, r := range reports {
		if r.Err != nil {
			logger.Warn("docs file failed", zap.String("path", r.Path), zap.Error(r.Err))
		}
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	preload(ctx, a)

	ans, err := a.service.Answer(ctx, strings.Join(args, " "), sessionID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ans.Answer)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, s := range ans.Sources {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}
	fmt.Fprintf(out, "\nSession: %s\n", ans.SessionID)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	preload(ctx, a)
	summary, err := a.service.ListCourses(ctx)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(tui.New(ctx, a.service, sessionID, tui.Summary(summary)), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func runCourses(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if !summaries {
		s, err := a.service.ListCourses(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d courses\n", s.Total)
		for _, t := range s.Titles {
			fmt.Fprintf(out, "  %s\n", t)
		}
		return nil
	}
	entries, err := a.service.Courses(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d courses\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "\n%s\n", e.Course.Title)
		if e.Course.Instructor != "" {
			fmt.Fprintf(out, "  Instructor: %s\n", e.Course.Instructor)
		}
		fmt.Fprintf(out, "  Lessons: %d\n", len(e.Course.Lessons))
		if e.Summary != "" {
			fmt.Fprintf(out, "  %s\n", e.Summary)
		}
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	preload(ctx, a)
	logger.Info("serving MCP on stdio", zap.String("version", version))
	return mcpserver.New(a.tools, a.index, version, logger).ServeStdio()
}
