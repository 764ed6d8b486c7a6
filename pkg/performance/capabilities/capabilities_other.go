// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package capabilities

// Has reports false off Linux; capability sets are a Linux concept.
func Has(cap Capability) (bool, error) {
	return false, nil
}

// PerfEventParanoid is unavailable off Linux.
func PerfEventParanoid() (int, error) {
	return 0, nil
}
