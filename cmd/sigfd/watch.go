//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/akalinux/sigfd"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Block signals and print every record read from a signalfd",
		Long: `Blocks the given signals on the watcher thread and prints every record read
from the signalfd until the timeout expires, --count records were printed, or
the process is killed.

Only the watcher thread blocks the signals.  A process directed signal
(kill <pid>) is usually taken by another Go runtime thread instead and never
reaches the signalfd.  For HUP, INT, TERM and the other signals whose default
action is to terminate, Go's handler on that thread exits the whole process.
Use --self-test to raise the first signal against the watcher thread itself on
a cron schedule.`,
		Example: `  sigfd watch -s USR1 -s HUP
  sigfd watch -s USR1 --self-test "* * * * * * *" --count 3 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, v)
		},
	}
	flags := cmd.Flags()
	addWatchFlags(flags)
	v.BindPFlags(flags)
	return cmd
}

func addWatchFlags(flags *pflag.FlagSet) {
	flags.StringSliceP(KeySignal, "s", []string{"USR1"}, "Signal to watch, name or number, can be repeated")
	flags.Duration(KeyTimeout, 0, "Stop after this long, 0 runs until killed")
	flags.Int(KeyCount, 0, "Stop after this many records, 0 means no limit")
	flags.String(KeySelfTest, "", "Cron expression on which the first signal is raised against the watcher thread")
}

func parseSignals(names []string) ([]unix.Signal, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("At least one signal is required")
	}
	sigs := make([]unix.Signal, 0, len(names))
	for _, name := range names {
		sig, err := sigfd.ParseSignal(name)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func runWatch(cmd *cobra.Command, v *viper.Viper) error {
	sigs, err := parseSignals(v.GetStringSlice(KeySignal))
	if err != nil {
		return err
	}
	enc, err := newEncoder(cmd.OutOrStdout(), v.GetString(KeyOutput))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := v.GetDuration(KeyTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	records := make(chan *record, sigfd.MAX_SIGNALS_PER_PASS)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return watch(ctx, sigs, v.GetInt(KeyCount), v.GetString(KeySelfTest), records)
	})
	g.Go(func() error {
		for r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("Failed to write record, error was: %w", err)
			}
		}
		return nil
	})
	return g.Wait()
}

// Runs the Watcher on a locked thread that blocks sigs.
func watch(ctx context.Context, sigs []unix.Signal, count int, selfTest string, out chan<- *record) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	mask := sigfd.NewSigSet(sigs...)
	old, err := mask.BlockThread()
	if err != nil {
		return err
	}
	defer old.SetThreadMask()

	w, err := sigfd.NewWatcher(mask)
	if err != nil {
		return err
	}
	defer w.Close()

	seen := 0
	for _, sig := range sigs {
		err = w.OnSignal(sig, func(event *sigfd.SigEvent) {
			slog.Debug("Got signal", "signal", event.Signal, "pid", event.Info.Pid)
			select {
			case out <- newRecord(event.Info):
			case <-ctx.Done():
				return
			}
			seen++
			if count > 0 && seen >= count {
				w.Stop()
			}
		})
		if err != nil {
			return err
		}
	}

	if selfTest != "" {
		_, err = w.SetCron(func(*sigfd.TimerEvent) {
			if err := sigfd.RaiseThread(sigs[0]); err != nil {
				slog.Error("Self test failed", "error", err)
			}
		}, selfTest)
		if err != nil {
			return fmt.Errorf("Bad self test schedule: %q, error was: %w", selfTest, err)
		}
	}

	slog.Info("Watching signals", "pid", os.Getpid(), "tid", unix.Gettid(), "signals", mask.String())
	return w.Run(ctx)
}
