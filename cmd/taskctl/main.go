package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/macomeau/Artifacts-sub001/internal/control"
	"github.com/macomeau/Artifacts-sub001/internal/model"
)

const requestTimeout = 35 * time.Second

var natsURL string

func main() {
	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Operator CLI for the task supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&natsURL, "nats", nats.DefaultURL, "NATS server URL")

	root.AddCommand(startCmd(), stopCmd(), restartCmd(), listCmd(), clearCmd(), logsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <worker> [args...]",
		Short: "Start a worker; supersedes the character's current task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp control.StartResponse
			err := request(control.SubjectStart,
				control.StartRequest{Worker: args[0], Args: args[1:]}, &resp)
			if err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Printf("Started task %d (%s)\n", resp.TaskID, resp.Handle)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <handle>",
		Short: "Stop a worker and complete its task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp control.AckResponse
			err := request(control.SubjectStop, control.HandleRequest{Handle: args[0]}, &resp)
			if err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Println("Stopped", args[0])
			return nil
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <handle>",
		Short: "Stop a worker and relaunch it with the recovery marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp control.StartResponse
			err := request(control.SubjectRestart, control.HandleRequest{Handle: args[0]}, &resp)
			if err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Printf("Restarted as task %d (%s)\n", resp.TaskID, resp.Handle)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live workers and each character's last known task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp control.ListResponse
			if err := request(control.SubjectList, struct{}{}, &resp); err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			printWorkers(resp.Workers)
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Hide stopped workers from the listing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp control.AckResponse
			if err := request(control.SubjectClear, struct{}{}, &resp); err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			fmt.Printf("Cleared %d stopped workers\n", resp.Cleared)
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <handle>",
		Short: "Print a worker's recent output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp control.LogsResponse
			err := request(control.SubjectLogs, control.HandleRequest{Handle: args[0]}, &resp)
			if err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("%s", resp.Error)
			}
			for _, line := range resp.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func request(subject string, req, resp any) error {
	nc, err := nats.Connect(natsURL, nats.Name("taskctl"), nats.Timeout(5*time.Second))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", natsURL, err)
	}
	defer nc.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	msg, err := nc.Request(subject, data, requestTimeout)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", subject, err)
	}
	return json.Unmarshal(msg.Data, resp)
}

func printWorkers(workers []model.WorkerInfo) {
	if len(workers) == 0 {
		fmt.Println("No workers")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tCHARACTER\tSTATE\tLIVE\tPID\tSOURCE\tARGS")
	for _, info := range workers {
		pid := ""
		if info.PID != 0 {
			pid = fmt.Sprintf("%d", info.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			info.Handle,
			info.Character,
			info.State,
			info.Live,
			pid,
			info.Source,
			strings.Join(info.Spec.Args, " "))
	}
	w.Flush()
}
