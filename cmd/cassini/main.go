// Command cassini is the client CLI for saturnd: a thin encoder of the wire
// protocol, one subcommand per opcode.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"danga.com/saturnd/internal/client"
	"danga.com/saturnd/internal/protocol"
)

// Exit codes, one per failure category, so scripts can branch on them.
const (
	exitOK          = 0
	exitNotFound    = 2
	exitNeverRun    = 3
	exitUnknown     = 4
	exitTransport   = 5
	exitUsage       = 6
)

func main() {
	var pipesDir string

	root := &cobra.Command{
		Use:           "cassini",
		Short:         "cassini talks to a running saturnd over its request/reply pipes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&pipesDir, "pipes-dir", "p", "", "look for the pipes in PIPES_DIR (default: saturnd's own default)")

	newClient := func() *client.Client {
		dir := pipesDir
		if dir == "" {
			dir = defaultPipesDir()
		}
		return client.New(dir)
	}

	root.AddCommand(listCmd(newClient))
	root.AddCommand(createCmd(newClient))
	root.AddCommand(removeCmd(newClient))
	root.AddCommand(runsCmd(newClient))
	root.AddCommand(stdoutCmd(newClient))
	root.AddCommand(stderrCmd(newClient))
	root.AddCommand(terminateCmd(newClient))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func defaultPipesDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/saturnd"
	}
	return os.TempDir() + "/saturnd"
}

func exitCodeFor(err error) int {
	var replyErr *client.ReplyError
	if ok := asReplyError(err, &replyErr); ok {
		switch replyErr.Subcode {
		case protocol.ErrNotFound:
			return exitNotFound
		case protocol.ErrNeverRun:
			return exitNeverRun
		default:
			return exitUnknown
		}
	}
	return exitTransport
}

func asReplyError(err error, target **client.ReplyError) bool {
	for err != nil {
		if re, ok := err.(*client.ReplyError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func listCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "LIST_TASKS: print every registered task",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := newClient().List()
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Printf("%d\tminutes=%#016x hours=%#08x dow=%#02x\t%s\n",
					t.ID, t.Timing.Minutes, t.Timing.Hours, t.Timing.DaysOfWeek, strings.Join(t.Commandline, " "))
			}
			return nil
		},
	}
}

func createCmd(newClient func() *client.Client) *cobra.Command {
	var minutes, hours uint64
	var dow uint8
	cmd := &cobra.Command{
		Use:   "create -- COMMAND [ARGS...]",
		Short: "CREATE_TASK: schedule a new task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timing := protocol.Timing{Minutes: minutes, Hours: uint32(hours), DaysOfWeek: dow}
			id, err := newClient().Create(timing, args)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&minutes, "minutes", 0, "64-bit bitmap of minutes-of-hour to run on")
	cmd.Flags().Uint64Var(&hours, "hours", 0, "32-bit bitmap of hours-of-day to run on")
	cmd.Flags().Uint8Var(&dow, "days-of-week", 0, "8-bit bitmap of days-of-week to run on (bit 0 = Sunday)")
	return cmd
}

func removeCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "remove TASK_ID",
		Short: "REMOVE_TASK: stop and remove a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return newClient().Remove(id)
		},
	}
}

func runsCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "times TASK_ID",
		Short: "GET_TIMES_AND_EXITCODES: print a task's run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			runs, err := newClient().Runs(id)
			if err != nil {
				return err
			}
			now := timeNowForHumanize()
			for _, r := range runs {
				ts := unixToTime(r.Time)
				fmt.Printf("%d\t0x%04x\t%s\n", r.Time, r.ExitCode, humanize.RelTime(ts, now, "ago", "from now"))
			}
			return nil
		},
	}
}

func stdoutCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stdout TASK_ID",
		Short: "GET_STDOUT: print the last run's captured stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			out, err := newClient().Stdout(id)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func stderrCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stderr TASK_ID",
		Short: "GET_STDERR: print the last run's captured stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			out, err := newClient().Stderr(id)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func terminateCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate",
		Short: "TERMINATE: ask the daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().Terminate()
		},
	}
}

func unixToTime(sec uint64) time.Time { return time.Unix(int64(sec), 0) }

func timeNowForHumanize() time.Time { return time.Now() }

func parseTaskID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q: %w", s, err)
	}
	return id, nil
}
