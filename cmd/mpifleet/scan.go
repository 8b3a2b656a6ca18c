package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mpifleet/internal/domain"
	"mpifleet/internal/service"
)

type scanner interface {
	StartScan(ctx context.Context, base string, count int) (<-chan service.Event, error)
}

func newScanCmd(a *app) *cobra.Command {
	var (
		base  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Find reachable machines and inspect them",
		Example: `  mpifleet scan --base 192.168.1.100 --count 10
  mpifleet scan --base auto`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			from, n, err := a.scanRange(base, count, cmd.Flags().Changed("count"))
			if err != nil {
				return err
			}
			orch, err := a.newOrchestrator(nil)
			if err != nil {
				return err
			}

			final, err := runScan(ctx, orch, from, n, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Found %d machines\n", len(orch.ListMachines()))
			a.log.Debug().Str("scan_id", final.ID).Msg("Scan command finished")
			return nil
		},
	}
	addRangeFlags(cmd, &base, &count)
	return cmd
}

func addRangeFlags(cmd *cobra.Command, base *string, count *int) {
	cmd.Flags().StringVar(base, "base", "", `base address; candidates follow it in the last octet ("auto" uses this host's /24)`)
	cmd.Flags().IntVar(count, "count", 10, "number of addresses after base to probe")
}

// runScan drives one scan to the end. A row is printed to out as each
// machine is resolved; probe progress goes to progress.
func runScan(ctx context.Context, s scanner, base string, count int, out, progress io.Writer) (service.ScanProgress, error) {
	events, err := s.StartScan(ctx, base, count)
	if err != nil {
		return service.ScanProgress{}, err
	}

	writeHeader(out)
	var final service.ScanProgress
	for ev := range events {
		switch ev.Type {
		case service.EventScanStarted, service.EventScanProgress:
			fmt.Fprintf(progress, "\rProbed %d/%d (%d%%)", ev.Scan.Completed, ev.Scan.Total, ev.Scan.Percent)
		case service.EventMachineUpdated:
			if ev.Machine.Status == domain.MachineStatusPending || ev.Machine.Status == domain.MachineStatusError {
				writeRow(out, *ev.Machine)
			}
		case service.EventScanFinished:
			final = *ev.Scan
		}
	}
	fmt.Fprintln(progress)

	if final.State == service.ScanStateCancelled {
		return final, fmt.Errorf("scan cancelled after %d of %d addresses: %w", final.Completed, final.Total, context.Cause(ctx))
	}
	return final, nil
}
