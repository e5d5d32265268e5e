package main

import (
	"context"
	"fmt"
	"time"

	"github.com/escalopa/txcoord/internal/api/tc"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the cluster state, audit progress and last notified values of a coordinator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return errors.Wrapf(err, "dial %s", addr)
			}
			defer func() { _ = conn.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := tc.NewClient(conn)

			state, err := client.Handle(ctx, &core.Request{Service: core.ServiceGetClusterState})
			if err != nil {
				return err
			}
			audit, err := client.Handle(ctx, &core.Request{Service: core.ServiceGetAuditStatus})
			if err != nil {
				return err
			}
			notified, err := client.Handle(ctx, &core.Request{Service: core.ServiceGetLastNotified})
			if err != nil {
				return err
			}
			autosave, err := client.Handle(ctx, &core.Request{Service: core.ServiceAutosaveGet})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cluster_state:   %s\n", state.ClusterState)
			fmt.Fprintf(out, "audit_phase:     %s\n", audit.AuditPhase)
			fmt.Fprintf(out, "audit_cancel:    %s\n", audit.CancelStatus)
			fmt.Fprintf(out, "last_config_id:  %d\n", notified.ConfigID)
			fmt.Fprintf(out, "last_driver:     %s\n", notified.LastDriver)
			fmt.Fprintf(out, "autosave:        %t\n", autosave.Autosave)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9100", "coordinator gRPC address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}
