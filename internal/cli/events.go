package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shaiso/conveyor/internal/mq"
)

// NewEventsCmd создаёт команду events: читает события task.completed
// из RabbitMQ и печатает их, пока не прервут (Ctrl+C) или не
// наберётся --limit событий.
//
// Единственная команда, которая ходит не в HTTP API, а в брокер напрямую.
func NewEventsCmd(outputFn func() *Output) *cobra.Command {
	var (
		amqpURL string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow task completion events from RabbitMQ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			logger := slog.New(slog.DiscardHandler)

			conn, err := mq.NewConnection(amqpURL, logger)
			if err != nil {
				return fmt.Errorf("connect to rabbitmq: %w", err)
			}
			defer conn.Close()

			if err := mq.SetupTopology(cmd.Context(), conn); err != nil {
				return fmt.Errorf("setup topology: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			seen := 0
			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Queue: mq.QueueEventsCompleted,
				Handler: func(_ context.Context, msg *mq.Message) error {
					ev, err := mq.ParsePayload[mq.TaskCompletedPayload](msg)
					if err != nil {
						return err
					}
					if out.IsJSON() {
						out.JSON(ev)
					} else {
						out.Line("%s  %-9s  %-8s  %-16s  attempts=%d  %dms  %s",
							ev.TaskID, ev.Status, ev.Priority, ev.Handler,
							ev.Attempts, ev.DurationMs, orDash(ev.Error))
					}

					seen++
					if limit > 0 && seen >= limit {
						cancel()
					}
					return nil
				},
			})

			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&amqpURL, "rabbitmq-url", mq.DefaultURL(), "RabbitMQ URL")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many events (0 = follow)")

	return cmd
}
