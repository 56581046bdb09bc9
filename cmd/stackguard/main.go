package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"stackguard/internal/config"
)

// Version is set at build time via -ldflags "-X main.Version=vX.Y.Z"
var Version = "dev"

// defaultConfigFile is read when present and no --config flag is given
const defaultConfigFile = "stackguard.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()

	root := &cobra.Command{
		Use:           "stackguard",
		Short:         "Security controller for a stack of cooperating units",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "settings file (default "+defaultConfigFile+" when present)")
	flags.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	mustBindFlag(v, config.KeyLogLevel, flags.Lookup("log-level"))

	root.AddCommand(newServeCommand(v))
	root.AddCommand(newCtlCommand(v))
	root.AddCommand(newVersionCommand())
	return root
}

// mustBindFlag binds a flag to a settings key. Panics on programmer error.
func mustBindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for %q not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %q: %v", key, err))
	}
}

// loadConfig resolves the settings file and builds the configuration.
// The default file is optional; an explicit one must exist.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	return config.Load(v, path, explicit)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
