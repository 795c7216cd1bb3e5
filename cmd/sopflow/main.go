package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/sopflow/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sopflow",
	Short:         "Execute standard operating procedures with human approval gates",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `sopflow runs SOPs (ordered, machine-generated procedures) against registered
agents. Steps call tools directly or let an agent decide, branch on earlier
results and pause before sensitive tools until a human approves or rejects
the call. Paused runs are kept in a session store and resumed by ID.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(diagramCmd)
}

// withApp loads the configuration, wires the app and runs fn with it.
func withApp(cmd *cobra.Command, fn func(*app) error) error {
	cfg := loadConfig()
	logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
