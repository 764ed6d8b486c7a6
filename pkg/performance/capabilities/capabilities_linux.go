// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package capabilities

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Has reports whether the current process holds cap in its effective
// set, read from the CapEff line of /proc/self/status.
func Has(cap Capability) (bool, error) {
	capEff, err := effectiveSet("/proc/self/status")
	if err != nil {
		return false, err
	}
	return capEff&(1<<uint(cap)) != 0, nil
}

// PerfEventParanoid returns the kernel's perf_event_paranoid level.
// Negative levels permit unprivileged system-wide measurement; level 2
// and above restricts unprivileged users to their own tasks.
func PerfEventParanoid() (int, error) {
	data, err := os.ReadFile("/proc/sys/kernel/perf_event_paranoid")
	if err != nil {
		return 0, fmt.Errorf("reading perf_event_paranoid: %w", err)
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing perf_event_paranoid %q: %w", strings.TrimSpace(string(data)), err)
	}
	return level, nil
}

func effectiveSet(statusPath string) (uint64, error) {
	data, err := os.ReadFile(statusPath)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", statusPath, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		hex := strings.TrimSpace(strings.TrimPrefix(line, "CapEff:"))
		capEff, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing CapEff %q: %w", hex, err)
		}
		return capEff, nil
	}
	return 0, fmt.Errorf("no CapEff line in %s", statusPath)
}
