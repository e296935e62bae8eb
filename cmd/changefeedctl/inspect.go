package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/changefeed"
)

func newPublishCommand(opts *globalOptions) *cobra.Command {
	var (
		partition string
		id        string
		op        string
		data      string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Append one change to a partition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			operation := changefeed.Operation(op)
			switch operation {
			case changefeed.OperationCreate, changefeed.OperationReplace, changefeed.OperationDelete:
			default:
				return fmt.Errorf("invalid --op %q; use create|replace|delete", op)
			}
			var raw json.RawMessage
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				raw = json.RawMessage(data)
			}

			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			token, err := b.feed.Publish(cmd.Context(), partition, changefeed.Change{
				ID:        id,
				Operation: operation,
				Data:      raw,
				Timestamp: time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		},
	}
	cmd.Flags().StringVar(&partition, "partition", "p-0", "Partition to append to")
	cmd.Flags().StringVar(&id, "id", "", "Item ID")
	cmd.Flags().StringVar(&op, "op", string(changefeed.OperationReplace), "Operation: create|replace|delete")
	cmd.Flags().StringVar(&data, "data", "", "JSON item body")

	return cmd
}

func newStateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print owner, checkpoint and lag of every lease",
		RunE: func(cmd *cobra.Command, _ []string) error {
			est, closeFn, err := openEstimator(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			states, err := est.CurrentState(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PARTITION\tOWNER\tTOKEN\tLAG")
			for _, s := range states {
				owner := s.HostName
				if owner == "" {
					owner = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.PartitionID, owner, s.ContinuationToken, formatLag(s.EstimatedLag))
			}

			return w.Flush()
		},
	}
}

func newLagCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lag",
		Short: "Print the estimated lag per partition and in total",
		RunE: func(cmd *cobra.Command, _ []string) error {
			est, closeFn, err := openEstimator(cmd, opts)
			if err != nil {
				return err
			}
			defer closeFn()

			lag, err := est.EstimatedLag(cmd.Context())
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(lag))
			for pid := range lag {
				ids = append(ids, pid)
			}
			slices.Sort(ids)

			out := cmd.OutOrStdout()
			for _, pid := range ids {
				fmt.Fprintf(out, "%s\t%s\n", pid, formatLag(lag[pid]))
			}
			fmt.Fprintf(out, "total\t%d\n", changefeed.TotalLag(lag))

			return nil
		},
	}
}

func newResetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the owner of every lease so running processors reacquire them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}

			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			n, err := changefeed.ResetOwners(cmd.Context(), b.store, cfg.LeasePrefix)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d leases\n", n)

			return nil
		},
	}
}

func openEstimator(cmd *cobra.Command, opts *globalOptions) (*changefeed.Estimator, func(), error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, nil, err
	}

	b, err := opts.open(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	est, err := changefeed.NewEstimator(&cfg, b.store, b.feed)
	if err != nil {
		b.close()
		return nil, nil, err
	}

	return est, b.close, nil
}

func formatLag(lag int64) string {
	if lag == changefeed.UnknownLag {
		return "unknown"
	}

	return fmt.Sprint(lag)
}
