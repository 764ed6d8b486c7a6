// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync/atomic"
)

// ringBuffer consumes sample records from a region shared with the
// kernel. The kernel is a concurrent producer that advances head; this
// consumer owns tail. There is no lock protocol with the kernel, only
// the acquire/release ordering on the two indices:
//
//   - head is loaded with acquire semantics so every record byte the
//     kernel wrote before advancing head is visible.
//   - tail is stored with release semantics after a record is consumed,
//     which signals the kernel that the space may be reused.
//
// head and tail grow without bound; positions are taken modulo the
// power-of-two data length. Bytes behind tail may be overwritten by the
// kernel at any moment, so a record is fully copied out (when it wraps)
// or decoded (when contiguous) before tail moves.
type ringBuffer struct {
	head *uint64 // kernel-maintained, never written here
	tail *uint64 // consumer-maintained, never written by the kernel
	data []byte  // circular data region, len is a power of two

	format  SampleFormat
	scratch []byte // reassembly buffer for records that wrap
}

func newRingBuffer(head, tail *uint64, data []byte, format SampleFormat) (*ringBuffer, error) {
	if len(data) == 0 || bits.OnesCount(uint(len(data))) != 1 {
		return nil, fmt.Errorf("%w: data region length %d is not a power of two",
			ErrMapping, len(data))
	}
	return &ringBuffer{
		head:    head,
		tail:    tail,
		data:    data,
		format:  format,
		scratch: make([]byte, 1<<16),
	}, nil
}

// poll decodes every record that is complete at the time of the call
// and hands each to emit in ring order. It returns the number of records
// consumed. A record whose declared length extends past head is left for
// the next poll; this bounds each call by the data available on entry,
// so poll never blocks on the producer.
func (r *ringBuffer) poll(emit func(Record) error) (int, error) {
	head := atomic.LoadUint64(r.head)
	tail := atomic.LoadUint64(r.tail)

	size := uint64(len(r.data))
	consumed := 0

	for tail != head {
		avail := head - tail
		if avail < headerSize {
			// Header not fully written yet; retry next poll.
			break
		}

		hdr := r.header(tail)
		if hdr.Size < headerSize {
			return consumed, fmt.Errorf("%w: record at offset %d declares %d bytes",
				ErrConfig, tail%size, hdr.Size)
		}
		if uint64(hdr.Size) > avail {
			// Incomplete record: the kernel has reserved the space but
			// not finished writing. Never read beyond head.
			break
		}

		payload := r.bytes(tail+headerSize, uint64(hdr.Size)-headerSize)
		rec, err := decodeRecord(hdr, payload, r.format)

		// Publish tail even when one record fails to decode, so a
		// single bad record cannot wedge the ring.
		tail += uint64(hdr.Size)
		atomic.StoreUint64(r.tail, tail)

		if err != nil {
			return consumed, err
		}
		if err := emit(rec); err != nil {
			return consumed, err
		}
		consumed++
	}
	return consumed, nil
}

// header reads the fixed record header at logical position pos,
// reassembling it if it straddles the physical end of the region.
func (r *ringBuffer) header(pos uint64) RecordHeader {
	b := r.bytes(pos, headerSize)
	return RecordHeader{
		Type: RecordType(binary.LittleEndian.Uint32(b)),
		Misc: binary.LittleEndian.Uint16(b[4:]),
		Size: binary.LittleEndian.Uint16(b[6:]),
	}
}

// bytes returns n bytes starting at logical position pos. Contiguous
// spans alias the mapping; wrapping spans are copied into the scratch
// buffer so the caller always sees one flat slice.
func (r *ringBuffer) bytes(pos, n uint64) []byte {
	size := uint64(len(r.data))
	start := pos & (size - 1)
	if start+n <= size {
		return r.data[start : start+n]
	}
	if uint64(len(r.scratch)) < n {
		r.scratch = make([]byte, n)
	}
	m := copy(r.scratch[:n], r.data[start:])
	copy(r.scratch[m:n], r.data[:n-uint64(m)])
	return r.scratch[:n]
}
