// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipa-project/agent/pkg/perf"
	"github.com/pipa-project/agent/pkg/performance"
)

func newStatCommand() *cobra.Command {
	var (
		eventNames   []string
		pid          int
		duration     time.Duration
		transactions uint64
	)

	cmd := &cobra.Command{
		Use:   "stat [flags] [--] [command [args...]]",
		Short: "Count hardware events for a workload or an existing process",
		Long: `Stat opens a counter group, runs it over a workload, and prints the
multiplexing-corrected counts together with derived metrics such as CPI
and cache miss rate.

With a command, the counters follow the command (and its children) from
start to exit. With --pid, the counters attach to a running process for
--duration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && pid == 0 {
				return fmt.Errorf("a command or --pid is required")
			}
			if len(args) > 0 && pid != 0 {
				return fmt.Errorf("a command and --pid are mutually exclusive")
			}

			events := make([]perf.Event, 0, len(eventNames))
			for _, name := range eventNames {
				ev, err := perf.LookupEvent(name)
				if err != nil {
					return err
				}
				events = append(events, ev)
			}

			var (
				stats   performance.CounterStats
				elapsed time.Duration
				err     error
			)
			if len(args) > 0 {
				stats, elapsed, err = statWorkload(events, args)
			} else {
				stats, elapsed, err = statPid(cmd, events, pid, duration)
			}
			if err != nil {
				return err
			}

			printCounterStats(cmd.OutOrStdout(), stats, elapsed)

			counts := performance.CountsFromCounters(stats, elapsed)
			if transactions > 0 {
				counts.Transactions = &transactions
			}
			printDerivedMetrics(cmd.OutOrStdout(), performance.Derive(counts))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&eventNames, "events", "e",
		[]string{"cpu-cycles", "instructions", "cache-references", "cache-misses"},
		"counter events, group leader first")
	cmd.Flags().IntVarP(&pid, "pid", "p", 0, "attach to an existing process instead of running a command")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "measurement window for --pid mode")
	cmd.Flags().Uint64Var(&transactions, "transactions", 0,
		"workload transaction count, enables per-transaction metrics")

	return cmd
}

// statExecGateEnv marks a re-exec of our own binary acting as the
// workload trampoline for statWorkload.
const statExecGateEnv = "PIPA_AGENT_EXEC_GATE"

// execGateChild is the trampoline: it blocks until the parent has
// opened the counter group on this pid, then replaces itself with the
// workload via execve(2). The counters are opened disabled with
// enable_on_exec, so the kernel starts them exactly at the exec and the
// workload runs fully counted, like perf stat.
func execGateChild() {
	gate := os.NewFile(3, "exec-gate")
	buf := make([]byte, 1)
	if _, err := gate.Read(buf); err != nil {
		// Parent went away before releasing the gate.
		os.Exit(1)
	}
	gate.Close()

	args := os.Args[1:]
	path, err := exec.LookPath(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(127)
	}

	var env []string
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, statExecGateEnv+"=") {
			env = append(env, kv)
		}
	}
	if err := syscall.Exec(path, args, env); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(126)
	}
}

// statWorkload runs the command under a counter group with perf stat
// semantics: the group is attached to the gated trampoline before the
// workload execs and enable_on_exec starts it with the first
// instruction.
func statWorkload(events []perf.Event, args []string) (performance.CounterStats, time.Duration, error) {
	self, err := os.Executable()
	if err != nil {
		return performance.CounterStats{}, 0, fmt.Errorf("failed to locate own binary: %w", err)
	}
	gateRead, gateWrite, err := os.Pipe()
	if err != nil {
		return performance.CounterStats{}, 0, err
	}
	defer gateWrite.Close()

	child := exec.Command(self, args...)
	child.Env = append(os.Environ(), statExecGateEnv+"=1")
	child.ExtraFiles = []*os.File{gateRead}
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	if err := child.Start(); err != nil {
		gateRead.Close()
		return performance.CounterStats{}, 0, fmt.Errorf("failed to start workload: %w", err)
	}
	gateRead.Close()

	target := perf.AnyCPU(child.Process.Pid)
	group, err := perf.OpenGroup(events, target, perf.Options{
		ExcludeHypervisor: true,
		Inherit:           true,
		EnableOnExec:      true,
	})
	if err != nil {
		_ = child.Process.Kill()
		_ = child.Wait()
		return performance.CounterStats{}, 0, err
	}
	defer group.Close()

	start := time.Now()
	if _, err := gateWrite.Write([]byte{0}); err != nil {
		_ = child.Process.Kill()
		_ = child.Wait()
		return performance.CounterStats{}, 0, fmt.Errorf("failed to release workload: %w", err)
	}

	waitErr := child.Wait()
	elapsed := time.Since(start)
	if err := group.Stop(); err != nil {
		return performance.CounterStats{}, 0, err
	}

	// A non-zero workload exit still has counts worth printing.
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return performance.CounterStats{}, 0, fmt.Errorf("workload failed: %w", waitErr)
	}

	stats, err := readGroup(group, events, target)
	return stats, elapsed, err
}

// statPid attaches to a running process for the given window, or until
// interrupted.
func statPid(cmd *cobra.Command, events []perf.Event, pid int, duration time.Duration) (performance.CounterStats, time.Duration, error) {
	target := perf.AnyCPU(pid)
	group, err := perf.OpenGroup(events, target, perf.Options{
		ExcludeHypervisor: true,
	})
	if err != nil {
		return performance.CounterStats{}, 0, err
	}
	defer group.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := group.Start(); err != nil {
		return performance.CounterStats{}, 0, err
	}

	select {
	case <-time.After(duration):
	case <-ctx.Done():
	}

	if err := group.Stop(); err != nil {
		return performance.CounterStats{}, 0, err
	}
	elapsed := time.Since(start)

	stats, err := readGroup(group, events, target)
	return stats, elapsed, err
}

// readGroup snapshots the group into CounterStats, preserving the
// configured event order.
func readGroup(group *perf.Group, events []perf.Event, target perf.Target) (performance.CounterStats, error) {
	counts, err := group.ReadAll()
	if err != nil {
		return performance.CounterStats{}, err
	}

	stats := performance.CounterStats{
		Timestamp: time.Now(),
		Target:    target.String(),
	}
	for _, ev := range events {
		sc, ok := counts[ev.Name]
		if !ok {
			continue
		}
		stats.Counters = append(stats.Counters, performance.CounterValue{
			Name:        ev.Name,
			Raw:         sc.Raw,
			Scaled:      sc.Value,
			TimeEnabled: sc.TimeEnabled,
			TimeRunning: sc.TimeRunning,
			Multiplexed: sc.Multiplexed(),
		})
	}
	return stats, nil
}

func printCounterStats(out io.Writer, stats performance.CounterStats, elapsed time.Duration) {
	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\nCounter stats for %s (%.3fs):\n\n", stats.Target, elapsed.Seconds())
	for _, c := range stats.Counters {
		count := "<not counted>"
		if c.Scaled != nil {
			count = formatCount(*c.Scaled)
		}
		running := ""
		if c.Multiplexed && c.TimeEnabled > 0 {
			running = fmt.Sprintf("(%.1f%% running)",
				100*float64(c.TimeRunning)/float64(c.TimeEnabled))
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", count, c.Name, running)
	}
	fmt.Fprintln(w)
	w.Flush()
}

func printDerivedMetrics(out io.Writer, m performance.DerivedMetrics) {
	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	printRatio := func(name string, v *float64) {
		if v == nil {
			return
		}
		fmt.Fprintf(w, "  %.4f\t%s\n", *v, name)
	}
	printRatio("CPI", m.CPI)
	printRatio("IPC", m.IPC)
	printRatio("cache miss rate", m.CacheMissRate)
	printRatio("branch miss rate", m.BranchMissRate)
	printRatio("instructions per transaction", m.PathLength)
	printRatio("cycles per transaction", m.CyclesPerTransaction)
	printRatio("transactions per second", m.TransactionsPerSecond)
	w.Flush()
}

// formatCount renders a counter value with thousands separators.
func formatCount(v uint64) string {
	s := strconv.FormatUint(v, 10)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	lead := len(s) % 3
	if lead > 0 {
		out = append(out, s[:lead]...)
	}
	for i := lead; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
