package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для tasks.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit and cancel tasks",
	}

	cmd.AddCommand(
		newTaskSubmitCmd(clientFn, outputFn),
		newTaskCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		args       []string
		kwargs     []string
		priority   string
		timeout    time.Duration
		retries    int
		dependency string
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit HANDLER",
		Short: "Submit a task by handler name",
		Example: `  conveyor task submit echo --arg 1 --arg '"two"'
  conveyor task submit http.request --kwarg url=https://example.com --dependency example --wait 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitTaskRequest{
				Handler:    positional[0],
				Priority:   priority,
				TimeoutSec: timeout.Seconds(),
				Dependency: dependency,
			}
			for _, a := range args {
				req.Args = append(req.Args, parseValue(a))
			}
			if len(kwargs) > 0 {
				req.Kwargs = make(map[string]any, len(kwargs))
				for _, kv := range kwargs {
					key, value, ok := strings.Cut(kv, "=")
					if !ok || key == "" {
						return fmt.Errorf("invalid kwarg format %q, expected KEY=VALUE", kv)
					}
					req.Kwargs[key] = parseValue(value)
				}
			}
			if cmd.Flags().Changed("retries") {
				req.MaxRetries = &retries
			}

			id, err := client.SubmitTask(cmd.Context(), req)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Task submitted: %s", id))

			if wait <= 0 {
				return nil
			}
			res, err := client.GetResult(cmd.Context(), id, wait)
			if err != nil {
				return err
			}
			printResult(out, res)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&args, "arg", nil, "Positional argument, JSON or plain string (repeatable)")
	cmd.Flags().StringArrayVar(&kwargs, "kwarg", nil, "Named argument as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&priority, "priority", "NORMAL", "Priority (LOW, NORMAL, HIGH, URGENT, CRITICAL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-attempt timeout (engine default if zero)")
	cmd.Flags().IntVar(&retries, "retries", 0, "Max retries after failure (engine default if not set)")
	cmd.Flags().StringVar(&dependency, "dependency", "", "Route through the circuit breaker with this name")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait for the result and print it")

	return cmd
}

func newTaskCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.CancelTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if res.Cancelled {
				out.Success(fmt.Sprintf("Task cancelled: %s", res.TaskID))
			} else {
				out.Success(fmt.Sprintf("Task already finished: %s", res.TaskID))
			}
			return nil
		},
	}
}

// NewResultCmd создаёт команду result.
func NewResultCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "result TASK_ID",
		Short: "Show task result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.GetResult(cmd.Context(), args[0], wait)
			if err != nil {
				return err
			}
			printResult(out, res)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the task to finish")

	return cmd
}

func printResult(out *Output, res *ResultResponse) {
	fields := [][2]string{
		{"Task", res.TaskID},
		{"Status", res.Status},
		{"Attempts", strconv.Itoa(res.Attempts)},
		{"Worker", orDash(res.WorkerID)},
		{"Execution time", (time.Duration(res.ExecutionTimeMS) * time.Millisecond).String()},
	}
	if res.Result != nil {
		data, _ := json.Marshal(res.Result)
		fields = append(fields, [2]string{"Result", string(data)})
	}
	if res.Error != "" {
		fields = append(fields, [2]string{"Error", fmt.Sprintf("%s (%s)", res.Error, res.ErrorKind)})
	}
	out.Fields(fields, res)
}

// parseValue декодирует JSON-значение; всё остальное остаётся строкой.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
