package main

import (
	"fmt"
	"os"

	"github.com/ChristopherRabotin/irkgen"
	kitlog "github.com/go-kit/kit/log"
	"github.com/spf13/cobra"
)

var (
	logger   kitlog.Logger
	registry = irkgen.DefaultRegistry()
)

func init() {
	klog := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = kitlog.With(klog, "cmd", "irkgen")
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "irkgen",
		Short:         "Generates implicit Runge-Kutta integrators with sensitivities for embedded MPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "directory of conf.{toml,yaml,json} (default $IRKGEN_CONFIG)")
	root.AddCommand(generateCmd(), verifyCmd(), tableausCmd())
	return root
}

// confDir returns the --config flag, or $IRKGEN_CONFIG.
func confDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = os.Getenv("IRKGEN_CONFIG")
	}
	return dir
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		logger.Log("level", "critical", "err", err)
		os.Exit(1)
	}
}

// usage returns an error listing the arguments expected by cmd.
func usage(cmd *cobra.Command, what string) error {
	return fmt.Errorf("%s: expected %s", cmd.CommandPath(), what)
}
