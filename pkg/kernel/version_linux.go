// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CurrentVersion returns the running kernel's release via uname(2).
func CurrentVersion() (Version, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return Version{}, fmt.Errorf("uname failed: %w", err)
	}
	return ParseVersion(unix.ByteSliceToString(uts.Release[:]))
}
