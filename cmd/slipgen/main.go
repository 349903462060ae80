package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/wudi/slipkit/config"
	"github.com/wudi/slipkit/ingest"
	"github.com/wudi/slipkit/observability"
	"github.com/wudi/slipkit/pipeline"
)

type options struct {
	configPath string
	outDir     string
	workers    int
	inputPath  string
}

var errUsage = errors.New("usage")

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "slipgen: %v\n", err)
		}
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, opts, os.Stderr)
	if err != nil {
		code := pipeline.Classify(err)
		fmt.Fprintln(os.Stderr, failureStyle.Render(fmt.Sprintf("slipgen: %s error: %v", code, err)))
		stop()
		os.Exit(exitCode(code))
	}
	fmt.Fprintln(os.Stderr, summary(res))
	fmt.Println(res.MergedPath)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("slipgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: slipgen [flags] run <input.csv>\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "YAML config file (defaults apply when empty or missing)")
	fs.StringVar(&opts.outDir, "out", "", "Output directory, overrides output_dir")
	fs.IntVar(&opts.workers, "workers", 0, "Concurrent row workers, overrides workers")
	if err := fs.Parse(args); err != nil {
		return options{}, errUsage
	}
	if fs.NArg() != 2 || fs.Arg(0) != "run" {
		fs.Usage()
		return options{}, errUsage
	}
	opts.inputPath = fs.Arg(1)
	return opts, nil
}

func run(ctx context.Context, opts options, stderr io.Writer) (*pipeline.Result, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.outDir != "" {
		cfg.OutputDir = opts.outDir
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	level, err := observability.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := observability.NewSlogLogger(stderr, level, cfg.LogFormat)

	f, err := os.Open(opts.inputPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := ingest.ReadCSV(f, cfg.InputEncoding)
	if err != nil {
		return nil, err
	}
	return pipeline.Run(ctx, rows, cfg, pipeline.WithLogger(logger))
}

func exitCode(code pipeline.Code) int {
	switch code {
	case pipeline.CodeGlyph:
		return 3
	case pipeline.CodeIO:
		return 4
	case pipeline.CodeRow:
		return 5
	case pipeline.CodeMerge:
		return 6
	case pipeline.CodeCancel:
		return 130
	}
	return 1
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(18)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func summary(res *pipeline.Result) string {
	lines := []string{
		titleStyle.Render("delivery slips ready"),
		labelStyle.Render("merged") + res.MergedPath,
		labelStyle.Render("pages") + fmt.Sprint(res.Pages),
		labelStyle.Render("artifacts") + fmt.Sprint(len(res.Artifacts)),
		labelStyle.Render("type") + pipeline.MIMEType,
	}
	for _, sk := range res.SkippedRows {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("skipped row %d: %v", sk.Location.Row, sk.Err)))
	}
	for _, sk := range res.SkippedArtifacts {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("excluded %s: %v", sk.Seq.Name(), sk.Err)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
