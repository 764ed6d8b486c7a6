// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package capabilities

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStatus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEffectiveSet(t *testing.T) {
	t.Run("parses CapEff line", func(t *testing.T) {
		path := writeStatus(t, "Name:\ttest\nCapInh:\t0000000000000000\nCapEff:\t0000004000000000\n")
		capEff, err := effectiveSet(path)
		require.NoError(t, err)
		// Bit 38 (CAP_PERFMON) set.
		assert.Equal(t, uint64(1)<<38, capEff)
	})

	t.Run("missing CapEff line", func(t *testing.T) {
		path := writeStatus(t, "Name:\ttest\n")
		_, err := effectiveSet(path)
		assert.Error(t, err)
	})

	t.Run("garbage CapEff value", func(t *testing.T) {
		path := writeStatus(t, "CapEff:\tnothex\n")
		_, err := effectiveSet(path)
		assert.Error(t, err)
	})
}

func TestCapabilityString(t *testing.T) {
	assert.Equal(t, "CAP_PERFMON", CAP_PERFMON.String())
	assert.Equal(t, "CAP_SYS_ADMIN", CAP_SYS_ADMIN.String())
	assert.Equal(t, "UNKNOWN", Capability(99).String())
}
