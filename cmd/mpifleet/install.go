package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mpifleet/internal/domain"
	"mpifleet/internal/service"
)

type installer interface {
	RequestInstall(ctx context.Context, id string) (domain.Machine, error)
	ListMachines() []domain.Machine
	Machine(id string) (domain.Machine, error)
	Wait()
}

func newInstallCmd(a *app) *cobra.Command {
	var (
		base  string
		count int
		all   bool
		ids   []string
	)
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Scan, then install OpenMPI on the chosen machines",
		Example: `  mpifleet install --base 192.168.1.100 --count 10 --all
  mpifleet install --id 192.168.1.101 --id 192.168.1.105`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if all == (len(ids) > 0) {
				return errors.New("choose machines with either --all or --id")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			from, n, err := a.scanRange(base, count, cmd.Flags().Changed("count"))
			if err != nil {
				return err
			}

			bus := service.NewEventBus()
			orch, err := a.newOrchestrator(bus)
			if err != nil {
				return err
			}

			if _, err := runScan(ctx, orch, from, n, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
				return err
			}

			progress := make(chan service.Event, 64)
			unsubscribe := bus.Subscribe(progress)
			defer unsubscribe()
			go printInstallProgress(progress, cmd.ErrOrStderr())

			targets := installTargets(orch.ListMachines(), all, ids)
			fmt.Fprintln(cmd.OutOrStdout())
			return runInstalls(ctx, orch, targets, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	addRangeFlags(cmd, &base, &count)
	cmd.Flags().BoolVar(&all, "all", false, "install on every pending machine")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "machine id or address to install on (repeatable)")
	return cmd
}

// installTargets picks machine ids: every pending machine for all,
// otherwise the given ids or addresses
func installTargets(machines []domain.Machine, all bool, ids []string) []string {
	if !all {
		targets := make([]string, 0, len(ids))
		for _, id := range ids {
			targets = append(targets, domain.MachineID(id))
		}
		return targets
	}
	var targets []string
	for _, m := range machines {
		if m.Status == domain.MachineStatusPending {
			targets = append(targets, m.ID)
		}
	}
	return targets
}

// runInstalls requests every target, waits for all installs and prints the
// outcome. It fails if any target did not end installed.
func runInstalls(ctx context.Context, inst installer, targets []string, out, errOut io.Writer) error {
	if len(targets) == 0 {
		fmt.Fprintln(errOut, "No machines to install")
		return nil
	}

	var rejected []error
	accepted := make([]string, 0, len(targets))
	for _, id := range targets {
		if _, err := inst.RequestInstall(ctx, id); err != nil {
			rejected = append(rejected, err)
			fmt.Fprintf(errOut, "Skipping %s: %v\n", id, err)
			continue
		}
		accepted = append(accepted, id)
	}

	inst.Wait()

	writeHeader(out)
	failed := 0
	for _, id := range accepted {
		m, err := inst.Machine(id)
		if err != nil {
			failed++
			continue
		}
		writeRow(out, m)
		if m.Status != domain.MachineStatusInstalled {
			failed++
		}
	}

	if failed > 0 || len(rejected) > 0 {
		return fmt.Errorf("%d of %d installs did not succeed", failed+len(rejected), len(targets))
	}
	return nil
}

func printInstallProgress(events <-chan service.Event, w io.Writer) {
	for ev := range events {
		if ev.Type != service.EventInstallProgress || ev.Install == nil {
			continue
		}
		line := fmt.Sprintf("%s: %s", ev.Install.MachineID, ev.Install.Phase)
		if ev.Install.Outcome != "" {
			line += " (" + string(ev.Install.Outcome) + ")"
		}
		fmt.Fprintln(w, line)
	}
}
