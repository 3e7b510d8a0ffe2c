package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dgallion1/docsort/internal/classify"
	"github.com/dgallion1/docsort/internal/config"
	"github.com/dgallion1/docsort/internal/organizer"
	"github.com/dgallion1/docsort/internal/parser"
)

type rootOptions struct {
	configPath string
	yes        bool
	dryRun     bool
	logFormat  string
	logLevel   string
}

// classifierFactory builds the remote classifier. Tests swap it out.
var classifierFactory = func(cfg config.Config) classify.Classifier {
	return classify.NewClient(classify.Config{
		APIKey:            cfg.Classifier.APIKey,
		BaseURL:           cfg.Classifier.BaseURL,
		Model:             cfg.Classifier.Model,
		Timeout:           cfg.Timeout(),
		SystemInstruction: cfg.Classifier.SystemInstruction,
	})
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "docsort [root]",
		Short:         "Sort documents into folders named by their content",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrganize(cmd, args, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Approve every proposed move without prompting")
	rootCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Classify and report proposed moves without moving anything")

	rootCmd.AddCommand(newExtractCommand(opts))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

func runOrganize(cmd *cobra.Command, args []string, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	var root string
	if len(args) == 1 {
		root = strings.TrimSpace(args[0])
	} else {
		fmt.Fprint(out, "Enter the root folder path: ")
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read root folder: %w", err)
		}
		root = strings.TrimSpace(line)
	}
	if root == "" {
		return organizer.ErrRootNotFound
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return organizer.ErrRootNotFound
	}

	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	log := newLogger(cmd.ErrOrStderr(), cfg.Logging).With("run_id", uuid.NewString())

	lock, err := organizer.AcquireLock(root)
	if err != nil {
		return err
	}
	defer lock.Release()

	client := classifierFactory(cfg)
	if c, ok := client.(interface{ Close() }); ok {
		defer c.Close()
	}
	guard := classify.NewGuard(client, classify.GuardConfig{
		RequestsPerMinute: cfg.Classifier.RequestsPerMinute,
		BreakerFailures:   cfg.Classifier.BreakerFailures,
	}, nil, log)

	var approver organizer.Approver = organizer.NewConsoleApprover(in, out)
	if opts.yes {
		approver = organizer.AutoApprover{}
	}

	extractor := newExtractor(cfg)
	log.Debug("extractor ready", "extensions", extractor.Extensions())

	org := organizer.New(extractor, guard, approver, log, organizer.Options{
		OnConflict:       organizer.ConflictPolicy(cfg.Organize.OnConflict),
		DryRun:           opts.dryRun,
		MaxContentTokens: cfg.Classifier.MaxContentTokens,
	})

	report, err := org.Run(cmd.Context(), root)
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderReport(report, guard.Stats().Snapshot()))
	if report.Canceled {
		return cmd.Context().Err()
	}
	return nil
}

// loadConfig loads the configuration and applies command-line overrides.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, _, _, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = strings.ToLower(opts.logFormat)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(opts.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newExtractor(cfg config.Config) *parser.Extractor {
	return parser.New(parser.Options{
		OCR:                  &parser.TesseractEngine{Command: cfg.Extract.OCRCommand, Language: cfg.Extract.OCRLanguage},
		PDFFallbackPdftotext: cfg.Extract.PDFFallbackPdftotext,
		RenderMarkup:         cfg.Extract.Markup == config.MarkupText,
	})
}

func newLogger(w io.Writer, cfg config.Logging) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
