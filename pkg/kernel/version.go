// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

// Package kernel provides kernel version detection and comparison, used
// to gate collectors on the kernel features they need.
package kernel

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed kernel release.
type Version struct {
	Major int
	Minor int
	Patch int
	Raw   string // original release string, e.g. "6.8.0-45-generic"
}

// ParseVersion parses a kernel release string. Distribution suffixes
// after the first '-' are ignored; a missing or unparseable patch level
// reads as zero.
func ParseVersion(release string) (Version, error) {
	v := Version{Raw: release}

	version := release
	if idx := strings.Index(version, "-"); idx != -1 {
		version = version[:idx]
	}

	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return v, fmt.Errorf("invalid kernel version format: %s", release)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return v, fmt.Errorf("invalid major version in %q: %w", release, err)
	}
	v.Major = major

	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return v, fmt.Errorf("invalid minor version in %q: %w", release, err)
	}
	v.Minor = minor

	if len(parts) >= 3 {
		if patch, err := strconv.Atoi(parts[2]); err == nil {
			v.Patch = patch
		}
	}

	return v, nil
}

// AtLeast reports whether v is the same release as other or newer.
func (v Version) AtLeast(other Version) bool {
	return v.Compare(other) >= 0
}

// Compare returns -1 if v < other, 0 if equal, 1 if v > other.
func (v Version) Compare(other Version) int {
	pairs := [][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	}
	for _, p := range pairs {
		if p[0] != p[1] {
			if p[0] < p[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
