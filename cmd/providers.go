package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"chatrelay/internal/config"
	providerfactory "chatrelay/internal/provider/factory"
)

const providersUsage = `Usage:
  chatrelay providers --config <path>

Flags:
  --config string   Path to YAML configuration file (required)`

// listProviders prints every supported vendor with its key status and
// models. No vendor is contacted.
func listProviders(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("providers", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, providersUsage)
	}

	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse providers flags: %w", err)
	}
	if cfgPath == "" {
		return errors.New("providers command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	registry, err := providerfactory.NewRegistry(cfg, providerfactory.NewClient(cfg))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tAVAILABLE\tMODELS")
	for _, name := range registry.Names() {
		p, err := registry.Lookup(name)
		if err != nil {
			return err
		}
		available := "no"
		if p.IsAvailable() {
			available = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, available, strings.Join(p.Models(), ", "))
	}
	return tw.Flush()
}
