package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const usage = `chatrelay is a multi-provider chat backend.

Usage:
  chatrelay <command> [flags]

Commands:
  serve      Start the HTTP server
  export     Export a stored conversation
  providers  List providers and whether an API key is configured

Flags:
  -h, --help  Show this help message`

// stdout receives command output.
var stdout io.Writer = os.Stdout

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "export":
		return exportConversation(ctx, args[1:])
	case "providers":
		return listProviders(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Fprintln(stdout, strings.TrimSpace(usage))
	return nil
}
