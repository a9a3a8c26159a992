package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/syncd/internal/control"
	"github.com/vietddude/syncd/internal/sync/orchestrator"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the configured sync",
	Run:   runSync,
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate config and initialize adapters without writing")
	rootCmd.AddCommand(runCmd)
}

func runSync(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	app, err := control.NewApp(*cfg)
	if err != nil {
		slog.Error("Failed to initialize syncd", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start syncd", "error", err)
		os.Exit(1)
	}

	// First signal cancels the session cooperatively; the in-flight
	// batch finishes and consumption stops at the next boundary. A
	// second signal aborts outright.
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, cancelling session...", "signal", sig)
		if err := app.CancelActive(context.Background()); err != nil {
			slog.Warn("Cancellation failed", "error", err)
		}
		<-sigChan
		cancel()
	}()

	result, err := app.ExecuteSync(ctx, orchestrator.Options{DryRun: dryRun})
	if err != nil {
		var vErr *orchestrator.ValidationFailedError
		if errors.As(err, &vErr) {
			for _, fe := range vErr.Errors {
				slog.Error("Invalid config", "field", fe.Field, "rule", fe.Rule, "message", fe.Message)
			}
		} else {
			slog.Error("Sync failed", "error", err)
		}
		_ = app.Stop(context.Background())
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	if result.Status == orchestrator.StatusFailure {
		os.Exit(1)
	}
}
