// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package perf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestOpenErrorTaxonomy(t *testing.T) {
	tests := []struct {
		errno unix.Errno
		want  error
	}{
		{unix.EACCES, ErrPermission},
		{unix.EPERM, ErrPermission},
		{unix.EMFILE, ErrResource},
		{unix.ENFILE, ErrResource},
		{unix.ENOSPC, ErrResource},
		{unix.EBUSY, ErrResource},
		{unix.EINVAL, ErrConfig},
		{unix.ENOENT, ErrConfig},
		{unix.ENODEV, ErrConfig},
		{unix.EOPNOTSUPP, ErrConfig},
		{unix.E2BIG, ErrConfig},
		{unix.EOVERFLOW, ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			err := openError(CPUCycles, AnyCPU(0), tt.errno)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("unmapped errno passes through", func(t *testing.T) {
		err := openError(CPUCycles, AnyCPU(0), unix.EINTR)
		assert.ErrorIs(t, err, unix.EINTR)
		assert.NotErrorIs(t, err, ErrPermission)
		assert.NotErrorIs(t, err, ErrResource)
		assert.NotErrorIs(t, err, ErrConfig)
	})
}

func TestBuildAttr(t *testing.T) {
	t.Run("counting defaults", func(t *testing.T) {
		attr := buildAttr(CPUCycles, Options{})
		assert.Equal(t, uint32(EventTypeHardware), attr.Type)
		assert.Equal(t, uint64(HWCPUCycles), attr.Config)
		assert.NotZero(t, attr.Bits&unix.PerfBitDisabled, "counters open disabled")
		assert.Zero(t, attr.Sample)
		assert.Equal(t, uint64(unix.PERF_FORMAT_TOTAL_TIME_ENABLED|
			unix.PERF_FORMAT_TOTAL_TIME_RUNNING), attr.Read_format)
	})

	t.Run("exclusion and inherit flags", func(t *testing.T) {
		attr := buildAttr(Instructions, Options{
			ExcludeKernel:     true,
			ExcludeHypervisor: true,
			Inherit:           true,
			EnableOnExec:      true,
		})
		assert.NotZero(t, attr.Bits&unix.PerfBitExcludeKernel)
		assert.NotZero(t, attr.Bits&unix.PerfBitExcludeHv)
		assert.Zero(t, attr.Bits&unix.PerfBitExcludeUser)
		assert.NotZero(t, attr.Bits&unix.PerfBitInherit)
		assert.NotZero(t, attr.Bits&unix.PerfBitEnableOnExec)
	})

	t.Run("sampling configuration", func(t *testing.T) {
		format := SampleFormat{IP: true, Time: true, Period: true}
		attr := buildAttr(CPUClock, Options{
			SamplePeriod: 100000,
			SampleFormat: format,
		})
		assert.Equal(t, uint64(100000), attr.Sample)
		assert.Equal(t, format.Bits(), attr.Sample_type)
		assert.Equal(t, uint32(1), attr.Wakeup, "wakeup defaults to one event")

		attr = buildAttr(CPUClock, Options{SamplePeriod: 100000, WakeupEvents: 8})
		assert.Equal(t, uint32(8), attr.Wakeup)
	})
}
