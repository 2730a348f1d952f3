//go:build linux

package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ENV_PREFIX = "SIGFD"

	KeyDebug    = "debug"
	KeyOutput   = "output"
	KeySignal   = "signal"
	KeyTimeout  = "timeout"
	KeyCount    = "count"
	KeySelfTest = "self-test"
)

func main() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}

// Creates the root command.  Every flag can also be set from a SIGFD_* environment variable,
// e.g. SIGFD_SELF_TEST="*/5 * * * * * *".
func New() *cobra.Command {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:          "sigfd",
		Short:        "Read signals through a signalfd",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if v.GetBool(KeyDebug) {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	// by default, it fallbacks to stderr
	rootCmd.SetOut(os.Stdout)

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix(ENV_PREFIX)
	v.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	addRootFlags(flags)
	v.BindPFlags(flags)

	rootCmd.AddCommand(newWatchCmd(v), newLayoutCmd(v))
	return rootCmd
}

func addRootFlags(flags *pflag.FlagSet) {
	flags.BoolP(KeyDebug, "d", false, "Enable debug messages")
	flags.StringP(KeyOutput, "o", "text", "Output format: text, json or yaml")
}
