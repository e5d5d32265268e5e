package main

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	root := &cobra.Command{
		Use:           "txcoord",
		Short:         "txcoord coordinates configuration transactions across the participant daemons",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newServeCmd(), newStatusCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Fatalf(ctx, "txcoord: %v", err)
	}
}
