// Package cli implements the cobra command surface spec.md §6 describes:
// `ccproxy serve`, `ccproxy auth {login,info,validate}`, `ccproxy config show`.
// It is deliberately thin — every subcommand's Run wires already-built
// packages together the way the teacher's main.go wires provider
// constructors, just split across cobra.Command.RunE functions instead of
// one flat func main.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Execute builds the root command and runs it against os.Args.
func Execute() error {
	root := &cobra.Command{
		Use:          "ccproxy",
		Short:        "Local gateway translating between Anthropic, OpenAI-Chat, and OpenAI-Responses wire formats",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newAuthCmd())
	root.AddCommand(newConfigCmd())

	return root.Execute()
}

func exitError(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
