// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package kernel

import "errors"

// CurrentVersion is only meaningful on Linux.
func CurrentVersion() (Version, error) {
	return Version{}, errors.New("kernel version detection requires linux")
}
