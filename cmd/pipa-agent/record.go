// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/pipa-project/agent/pkg/channel"
	"github.com/pipa-project/agent/pkg/perf"
)

func newRecordCommand() *cobra.Command {
	var (
		eventName string
		pid       int
		allCPUs   bool
		period    uint64
		dataPages int
		duration  time.Duration
		sysPath   string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Sample instruction pointers from a process or the whole system",
		Long: `Record opens one or more sampling sessions, drains their ring buffers
for the given duration, and prints a per-CPU breakdown of the collected
samples together with the kernel's lost-sample accounting.

With --pid a single session follows one process across CPUs. With
--all-cpus one system-wide session per online CPU is opened and their
sample streams are merged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid == 0 && !allCPUs {
				return fmt.Errorf("--pid or --all-cpus is required")
			}
			if pid != 0 && allCPUs {
				return fmt.Errorf("--pid and --all-cpus are mutually exclusive")
			}

			logger, err := buildLogger()
			if err != nil {
				return err
			}

			event, err := perf.LookupEvent(eventName)
			if err != nil {
				return err
			}

			var targets []perf.Target
			if allCPUs {
				cpus, err := perf.OnlineCPUs(sysPath)
				if err != nil {
					return fmt.Errorf("failed to enumerate online cpus: %w", err)
				}
				for _, cpu := range cpus {
					targets = append(targets, perf.SystemWide(cpu))
				}
			} else {
				targets = []perf.Target{perf.AnyCPU(pid)}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			return record(ctx, cmd, logger, event, targets, period, dataPages)
		},
	}

	cmd.Flags().StringVarP(&eventName, "event", "e", "cpu-clock", "sampling event")
	cmd.Flags().IntVarP(&pid, "pid", "p", 0, "process to sample")
	cmd.Flags().BoolVarP(&allCPUs, "all-cpus", "a", false, "sample every online CPU system-wide")
	cmd.Flags().Uint64VarP(&period, "period", "F", 1000000, "events between samples")
	cmd.Flags().IntVar(&dataPages, "pages", 64, "ring buffer data pages per session, power of two")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "recording duration")
	cmd.Flags().StringVar(&sysPath, "sys-path", "/sys", "path to sysfs")

	return cmd
}

// sessionStats is the drop accounting of one finished session.
type sessionStats struct {
	target    perf.Target
	samples   uint64
	lost      uint64
	throttles uint64
}

func record(ctx context.Context, cmd *cobra.Command, logger logr.Logger,
	event perf.Event, targets []perf.Target, period uint64, dataPages int) error {

	opts := perf.Options{
		ExcludeHypervisor: true,
		SamplePeriod:      period,
		SampleFormat: perf.SampleFormat{
			IP:     true,
			Tid:    true,
			Time:   true,
			CPU:    true,
			Period: true,
		},
	}

	sessions := make([]*perf.Session, 0, len(targets))
	for _, target := range targets {
		session, err := perf.OpenSession(event, target, opts, dataPages)
		if err != nil {
			for _, s := range sessions {
				_ = s.Close()
			}
			return fmt.Errorf("failed to open session for %s: %w", target, err)
		}
		sessions = append(sessions, session)
	}

	merger := channel.NewMerger[*perf.SampleRecord]()
	statsCh := make(chan sessionStats, len(sessions))

	var wg sync.WaitGroup
	for i, session := range sessions {
		out := make(chan *perf.SampleRecord, 256)
		merger.Add(out)

		wg.Add(1)
		go func(target perf.Target, session *perf.Session) {
			defer wg.Done()
			defer close(out)
			runSession(ctx, logger, session, target, out, statsCh)
		}(targets[i], session)
	}

	// Close the merged stream once every session has drained.
	go func() {
		wg.Wait()
		merger.Close()
		close(statsCh)
	}()

	total := uint64(0)
	byCPU := make(map[uint32]uint64)
	for sample := range merger.Out() {
		total++
		if sample.CPU != nil {
			byCPU[*sample.CPU]++
		}
		if sample.IP != nil {
			logger.V(1).Info("sample",
				"ip", fmt.Sprintf("%#x", *sample.IP),
				"cpu", sample.CPU, "tid", sample.Tid, "period", sample.Period)
		}
	}

	var lost, throttles uint64
	for s := range statsCh {
		logger.V(1).Info("session finished", "target", s.target.String(),
			"samples", s.samples, "lost", s.lost, "throttles", s.throttles)
		lost += s.lost
		throttles += s.throttles
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nCollected %d samples of %s (%d lost, %d throttles)\n",
		total, event.Name, lost, throttles)

	cpus := make([]uint32, 0, len(byCPU))
	for cpu := range byCPU {
		cpus = append(cpus, cpu)
	}
	sort.Slice(cpus, func(i, j int) bool { return cpus[i] < cpus[j] })
	for _, cpu := range cpus {
		fmt.Fprintf(out, "  cpu%d\t%d\n", cpu, byCPU[cpu])
	}
	return nil
}

// sampleSession is the slice of perf.Session the record loop drives,
// narrowed to an interface so the forwarding path is testable without
// a kernel.
type sampleSession interface {
	Arm() error
	Start() error
	Stop() error
	Poll(emit func(*perf.SampleRecord) error) (int, error)
	Drain(emit func(*perf.SampleRecord) error) (int, error)
	Close() error
	Samples() uint64
	LostSamples() uint64
	Throttles() uint64
}

// runSession drives one session from arm to close, forwarding decoded
// samples until the context expires, then draining the buffer.
func runSession(ctx context.Context, logger logr.Logger, session sampleSession,
	target perf.Target, out chan<- *perf.SampleRecord, statsCh chan<- sessionStats) {

	// The consumer reads the merged stream until every per-session
	// channel closes, so a blocking send cannot deadlock. The drain
	// after Stop always runs with the context already expired;
	// selecting on ctx.Done here would discard buffered samples.
	emit := func(sample *perf.SampleRecord) error {
		out <- sample
		return nil
	}

	fail := func(err error, msg string) {
		logger.Error(err, msg, "target", target.String())
		_ = session.Close()
	}

	if err := session.Arm(); err != nil {
		fail(err, "failed to arm session")
		return
	}
	if err := session.Start(); err != nil {
		fail(err, "failed to start session")
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-ticker.C:
			if _, err := session.Poll(emit); err != nil {
				logger.Error(err, "poll failed", "target", target.String())
				done = true
			}
		}
	}

	// Stop enters Draining even on error; keep going so buffered
	// samples and the handle are not lost.
	if err := session.Stop(); err != nil {
		logger.Error(err, "failed to stop session", "target", target.String())
	}
	if _, err := session.Drain(emit); err != nil {
		logger.Error(err, "drain failed", "target", target.String())
	}

	statsCh <- sessionStats{
		target:    target,
		samples:   session.Samples(),
		lost:      session.LostSamples(),
		throttles: session.Throttles(),
	}

	if err := session.Close(); err != nil {
		logger.Error(err, "failed to close session", "target", target.String())
	}
}
