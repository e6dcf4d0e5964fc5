package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootFlags struct {
	cfgPath string
	debug   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCMD().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCMD() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "contentpipe",
		Short:         "Turn a topic into research, a script and social assets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.cfgPath, "config", "c", "", "config file (default is .)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "debug logging")

	root.AddCommand(
		runCMD(flags),
		resumeCMD(flags),
		reviewCMD(flags),
		serveCMD(flags),
		migrateCMD(flags),
		mcpSmokeCMD(flags),
	)
	return root
}
