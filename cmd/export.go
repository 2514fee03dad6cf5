package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"chatrelay/internal/config"
	"chatrelay/internal/export"
)

const exportUsage = `Usage:
  chatrelay export --config <path> --id <session> [--format json|txt|markdown] [--out <file>]

Flags:
  --config string   Path to YAML configuration file (required)
  --id     string   Conversation to export (required)
  --format string   Output format (default json)
  --out    string   Write to file instead of stdout`

func exportConversation(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, exportUsage)
	}

	var cfgPath, id, formatName, out string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&id, "id", "", "conversation id")
	fs.StringVar(&formatName, "format", string(export.FormatJSON), "output format")
	fs.StringVar(&out, "out", "", "output file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse export flags: %w", err)
	}
	if cfgPath == "" || id == "" {
		return errors.New("export command requires --config <path> and --id <session>")
	}

	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Keep stdout clean for the document itself.
	a, err := newApp(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	defer a.Close()

	body, err := a.router.ExportSession(ctx, id, format)
	if err != nil {
		return fmt.Errorf("export %s: %w", id, err)
	}

	if out == "" {
		_, err = stdout.Write(body)
		return err
	}
	if err := os.WriteFile(out, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(stdout, "exported %s to %s\n", id, out)
	return nil
}
