// Command changefeedctl runs and inspects change feed processors backed by NATS.
//
// Leases live in a JetStream KV bucket (or Redis with --store=redis) and the
// change feed is a JetStream stream with one subject per partition.
//
// Usage:
//
//	changefeedctl run --host worker-1 --partitions p-0,p-1,p-2
//	changefeedctl publish --partition p-0 --id order-42 --data '{"total":10}'
//	changefeedctl state --partitions p-0,p-1,p-2
//	changefeedctl lag --partitions p-0,p-1,p-2
//	changefeedctl reset
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(os.Getenv("CHANGEFEED_LOG_LEVEL"))}))

	if err := newRootCommand(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the command tree.
func newRootCommand(logger *slog.Logger) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:          "changefeedctl",
		Short:        "Change feed processor CLI",
		Long:         "changefeedctl runs a change feed processor over NATS and inspects its leases.",
		SilenceUsage: true,
	}
	opts.register(root)

	root.AddCommand(
		newRunCommand(opts, logger),
		newPublishCommand(opts),
		newStateCommand(opts),
		newLagCommand(opts),
		newResetCommand(opts),
	)

	return root
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// splitPartitions parses a comma separated partition list, dropping blanks and duplicates.
func splitPartitions(s string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no partitions given; use --partitions p-0,p-1")
	}

	return ids, nil
}
