// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// OnlineCPUs returns the online CPU numbers from the sysfs tree rooted
// at sysPath (normally "/sys"). Falls back to the runtime CPU count if
// the online list is unreadable.
func OnlineCPUs(sysPath string) ([]int, error) {
	data, err := os.ReadFile(filepath.Join(sysPath, "devices/system/cpu/online"))
	if err != nil {
		n := runtime.NumCPU()
		cpus := make([]int, n)
		for i := range cpus {
			cpus[i] = i
		}
		return cpus, nil
	}
	return ParseCPUList(strings.TrimSpace(string(data)))
}

// ParseCPUList parses a kernel CPU range list such as "0-3,5,7-8" into
// the individual CPU numbers.
func ParseCPUList(list string) ([]int, error) {
	if list == "" {
		return []int{0}, nil
	}

	var cpus []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range start %q", lo)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range end %q", hi)
			}
			if start > end {
				return nil, fmt.Errorf("invalid CPU range %q: start > end", part)
			}
			for i := start; i <= end; i++ {
				cpus = append(cpus, i)
			}
			continue
		}
		cpu, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid CPU number %q", part)
		}
		cpus = append(cpus, cpu)
	}

	if len(cpus) == 0 {
		return []int{0}, nil
	}
	return cpus, nil
}
