// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUList(t *testing.T) {
	tests := []struct {
		name    string
		list    string
		want    []int
		wantErr bool
	}{
		{name: "single cpu", list: "0", want: []int{0}},
		{name: "simple range", list: "0-3", want: []int{0, 1, 2, 3}},
		{name: "ranges and singles", list: "0-3,5,7-8", want: []int{0, 1, 2, 3, 5, 7, 8}},
		{name: "whitespace tolerated", list: " 0-1, 4 ", want: []int{0, 1, 4}},
		{name: "empty list means cpu0", list: "", want: []int{0}},
		{name: "garbage", list: "zero", wantErr: true},
		{name: "inverted range", list: "3-1", wantErr: true},
		{name: "open range", list: "0-", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCPUList(tt.list)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOnlineCPUs(t *testing.T) {
	t.Run("reads sysfs online list", func(t *testing.T) {
		sysPath := t.TempDir()
		dir := filepath.Join(sysPath, "devices/system/cpu")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "online"), []byte("0-2,4\n"), 0o644))

		cpus, err := OnlineCPUs(sysPath)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 4}, cpus)
	})

	t.Run("falls back to runtime count", func(t *testing.T) {
		cpus, err := OnlineCPUs(t.TempDir())
		require.NoError(t, err)
		assert.NotEmpty(t, cpus)
		assert.Equal(t, 0, cpus[0])
	})
}
