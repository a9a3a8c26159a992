package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	redisclient "github.com/vietddude/syncd/internal/infra/redis"
)

var sessionID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached status of a sync session",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&sessionID, "session", "", "session ID to inspect")
	_ = statusCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	if cfg.Redis.URL == "" {
		slog.Error("Session status requires redis.url in the config")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	fields, err := redisclient.NewEventSink(client).SessionStatus(context.Background(), sessionID)
	if err != nil {
		slog.Error("Failed to read session status", "error", err)
		os.Exit(1)
	}
	if len(fields) == 0 {
		fmt.Printf("no status cached for session %s\n", sessionID)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "FIELD\tVALUE")
	for _, k := range []string{
		"status", "sync_type", "started_at", "current_batch",
		"processed", "created", "updated", "existing", "errors", "error",
	} {
		if v, ok := fields[k]; ok && v != "" {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", k, v)
		}
	}
	_ = w.Flush()
}
