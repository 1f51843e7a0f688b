package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/outbox"
)

func outboxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drain the outbox of the connected database",
	}
	cmd.AddCommand(outboxPendingCmd(a))
	cmd.AddCommand(outboxFlushCmd(a))
	return cmd
}

func outboxPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Count unpublished outbox rows per routing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			var rows []struct {
				RoutingKey string
				Count      int64
			}
			if err := db.WithContext(cmd.Context()).Model(&outbox.Message{}).
				Select("routing_key, count(*) AS count").
				Where("published_at IS NULL AND failed_at IS NULL").
				Group("routing_key").
				Order("routing_key").
				Scan(&rows).Error; err != nil {
				return err
			}
			for _, r := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %d\n", r.RoutingKey, r.Count)
			}
			return nil
		},
	}
}

func outboxFlushCmd(a *app) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Publish every pending outbox row once and exit",
		Long: `Publish pending outbox rows through the broker selected by BROKER (sqs or kafka).

Rows whose publish fails stay pending and hold back later rows of the same key.
Stops after the first batch that publishes fewer rows than --batch-size.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			bus, err := broker.Open(ctx, broker.ConfigFromEnv("sagactl"), a.logger)
			if err != nil {
				return err
			}
			defer bus.Close() //nolint:errcheck

			relay := outbox.NewRelay(db, bus, a.logger, outbox.WithBatchSize(batchSize))
			total := 0
			for {
				n, err := relay.Flush(ctx)
				total += n
				if err != nil {
					return fmt.Errorf("flushed %d rows before failing: %w", total, err)
				}
				if n < batchSize {
					break
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d rows\n", total)
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "rows per batch")
	return cmd
}
