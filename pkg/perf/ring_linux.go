// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package perf

import (
	"fmt"
	"math/bits"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ringMapping owns the mmap(2) region for one sampling counter: one
// control page holding the kernel-maintained head and user-maintained
// tail, followed by a power-of-two number of data pages.
type ringMapping struct {
	fd    int
	pages int
	mem   []byte
}

func newRingMapping(fd, dataPages int) *ringMapping {
	return &ringMapping{fd: fd, pages: dataPages}
}

func (m *ringMapping) Map(format SampleFormat) (*ringBuffer, error) {
	if m.mem != nil {
		return nil, fmt.Errorf("%w: ring already mapped", ErrState)
	}
	if m.pages <= 0 || bits.OnesCount(uint(m.pages)) != 1 {
		return nil, fmt.Errorf("%w: data page count %d is not a power of two", ErrMapping, m.pages)
	}

	pageSize := unix.Getpagesize()
	mem, err := unix.Mmap(m.fd, 0, (1+m.pages)*pageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap of %d+1 pages: %v", ErrMapping, m.pages, err)
	}
	m.mem = mem

	meta := (*unix.PerfEventMmapPage)(unsafe.Pointer(&mem[0]))
	ring, err := newRingBuffer(&meta.Data_head, &meta.Data_tail, mem[pageSize:], format)
	if err != nil {
		m.Unmap()
		return nil, err
	}
	return ring, nil
}

func (m *ringMapping) Unmap() error {
	if m.mem == nil {
		return nil
	}
	mem := m.mem
	m.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("%w: munmap: %v", ErrMapping, err)
	}
	return nil
}
