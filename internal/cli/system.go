package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewHealthCmd создаёт команду health.
// Код выхода 1, если движок в состоянии unhealthy.
func NewHealthCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show engine health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(health.Components))
			for name := range health.Components {
				names = append(names, name)
			}
			slices.Sort(names)

			rows := make([][]string, 0, len(names)+1)
			rows = append(rows, []string{"engine", health.Status})
			for _, name := range names {
				rows = append(rows, []string{name, health.Components[name]})
			}
			out.Print([]string{"COMPONENT", "STATUS"}, rows, health)

			for _, p := range health.Problems {
				out.Error(p)
			}

			if health.Status == "unhealthy" {
				return fmt.Errorf("engine is %s", health.Status)
			}
			return nil
		},
	}
}

// NewStatsCmd создаёт команду stats.
func NewStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out.Fields([][2]string{
				{"Running", strconv.FormatBool(stats.Running)},
				{"Uptime", stats.Uptime.Round(time.Second).String()},
				{"Submitted", strconv.FormatInt(stats.Lifetime.Submitted, 10)},
				{"Completed", strconv.FormatInt(stats.Lifetime.Completed, 10)},
				{"Failed", strconv.FormatInt(stats.Lifetime.Failed, 10)},
				{"Cancelled", strconv.FormatInt(stats.Lifetime.Cancelled, 10)},
				{"Workers", fmt.Sprintf("%d (busy %d)", stats.Pool.WorkerCount, stats.Pool.BusyWorkers)},
				{"Load", strconv.FormatFloat(stats.Pool.CurrentLoad, 'f', 2, 64)},
				{"Queue", formatDepth(stats.Queue.Depth)},
				{"Queue available", strconv.FormatBool(stats.Queue.Available)},
				{"Loop units", strconv.Itoa(stats.Loop.Active)},
				{"Breakers", formatBreakers(stats)},
			}, stats)
			return nil
		},
	}
}

// formatDepth печатает глубину очереди от CRITICAL к LOW.
func formatDepth(depth map[string]int) string {
	order := []string{"CRITICAL", "URGENT", "HIGH", "NORMAL", "LOW"}
	parts := make([]string, 0, len(order))
	for _, p := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", p, depth[p]))
	}
	return strings.Join(parts, " ")
}

func formatBreakers(stats *StatsResponse) string {
	if len(stats.Breakers) == 0 {
		return "-"
	}
	names := make([]string, 0, len(stats.Breakers))
	for name := range stats.Breakers {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, stats.Breakers[name].State)
	}
	return strings.Join(parts, " ")
}
