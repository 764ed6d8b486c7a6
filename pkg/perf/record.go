// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"encoding/binary"
	"fmt"
)

// SampleFormat selects the payload fields of a sample record. Each flag
// corresponds to a PERF_SAMPLE_* bit; the set is fixed when the session
// is created and determines both the attr bitmask and the decode order.
type SampleFormat struct {
	Identifier bool
	IP         bool
	Tid        bool
	Time       bool
	Addr       bool
	ID         bool
	StreamID   bool
	CPU        bool
	Period     bool
	Read       bool
	Callchain  bool
}

// PERF_SAMPLE_* bits, in the kernel's canonical payload order.
const (
	sampleIP        = 1 << 0
	sampleTid       = 1 << 1
	sampleTime      = 1 << 2
	sampleAddr      = 1 << 3
	sampleRead      = 1 << 4
	sampleCallchain = 1 << 5
	sampleID        = 1 << 6
	sampleCPU       = 1 << 7
	samplePeriod    = 1 << 8
	sampleStreamID  = 1 << 9
	sampleIdent     = 1 << 16
)

// Bits packs the format into the attr sample_type bitmask.
func (f SampleFormat) Bits() uint64 {
	var bits uint64
	set := func(on bool, bit uint64) {
		if on {
			bits |= bit
		}
	}
	set(f.Identifier, sampleIdent)
	set(f.IP, sampleIP)
	set(f.Tid, sampleTid)
	set(f.Time, sampleTime)
	set(f.Addr, sampleAddr)
	set(f.ID, sampleID)
	set(f.StreamID, sampleStreamID)
	set(f.CPU, sampleCPU)
	set(f.Period, samplePeriod)
	set(f.Read, sampleRead)
	set(f.Callchain, sampleCallchain)
	return bits
}

// RecordType tags a ring buffer record. Values match PERF_RECORD_*.
type RecordType uint32

const (
	RecordTypeLost       RecordType = 2
	RecordTypeThrottle   RecordType = 5
	RecordTypeUnthrottle RecordType = 6
	RecordTypeSample     RecordType = 9
)

// RecordHeader is the fixed 8-byte header that starts every record.
type RecordHeader struct {
	Type RecordType
	Misc uint16
	Size uint16 // total record length, header included
}

const headerSize = 8

// Record is one decoded ring buffer record.
type Record interface {
	Header() RecordHeader
}

// SampleRecord is a PERF_RECORD_SAMPLE payload. Only the fields enabled
// in the session's SampleFormat are populated; pointer and slice fields
// stay nil for disabled fields rather than holding ambiguous zeros.
type SampleRecord struct {
	RecordHeader

	Identifier *uint64
	IP         *uint64
	Pid        *uint32
	Tid        *uint32
	Time       *uint64
	Addr       *uint64
	ID         *uint64
	StreamID   *uint64
	CPU        *uint32
	Period     *uint64
	Value      *RawCount // counter snapshot, when Read is enabled
	Callchain  []uint64
}

func (s *SampleRecord) Header() RecordHeader { return s.RecordHeader }

// LostRecord reports samples the kernel dropped because the consumer
// fell behind. Lost is the kernel's count; collection continues.
type LostRecord struct {
	RecordHeader
	ID   uint64
	Lost uint64
}

func (l *LostRecord) Header() RecordHeader { return l.RecordHeader }

// ThrottleRecord marks the kernel throttling or unthrottling the event
// due to sampling overhead.
type ThrottleRecord struct {
	RecordHeader
	Enabled  bool // false for PERF_RECORD_THROTTLE, true for UNTHROTTLE
	Time     uint64
	ID       uint64
	StreamID uint64
}

func (t *ThrottleRecord) Header() RecordHeader { return t.RecordHeader }

// UnknownRecord preserves the header of record types this consumer does
// not interpret, so callers can count them.
type UnknownRecord struct {
	RecordHeader
}

func (u *UnknownRecord) Header() RecordHeader { return u.RecordHeader }

// fields is a little-endian cursor over a record payload. The kernel
// and the consumer always share byte order on a local mapping.
type fields struct {
	data []byte
	off  int
	err  error
}

func (f *fields) uint64(v *uint64) {
	if f.err != nil {
		return
	}
	if f.off+8 > len(f.data) {
		f.err = fmt.Errorf("payload truncated at offset %d", f.off)
		return
	}
	*v = binary.LittleEndian.Uint64(f.data[f.off:])
	f.off += 8
}

func (f *fields) uint32pair(a, b *uint32) {
	if f.err != nil {
		return
	}
	if f.off+8 > len(f.data) {
		f.err = fmt.Errorf("payload truncated at offset %d", f.off)
		return
	}
	*a = binary.LittleEndian.Uint32(f.data[f.off:])
	*b = binary.LittleEndian.Uint32(f.data[f.off+4:])
	f.off += 8
}

// decodeRecord interprets one complete record (header plus payload).
// The payload layout follows the canonical PERF_SAMPLE_* order; fields
// disabled in the format are absent from the wire and are left nil.
func decodeRecord(hdr RecordHeader, payload []byte, format SampleFormat) (Record, error) {
	switch hdr.Type {
	case RecordTypeSample:
		return decodeSample(hdr, payload, format)
	case RecordTypeLost:
		f := &fields{data: payload}
		lr := &LostRecord{RecordHeader: hdr}
		f.uint64(&lr.ID)
		f.uint64(&lr.Lost)
		if f.err != nil {
			return nil, fmt.Errorf("%w: lost record: %s", ErrConfig, f.err)
		}
		return lr, nil
	case RecordTypeThrottle, RecordTypeUnthrottle:
		f := &fields{data: payload}
		tr := &ThrottleRecord{RecordHeader: hdr, Enabled: hdr.Type == RecordTypeUnthrottle}
		f.uint64(&tr.Time)
		f.uint64(&tr.ID)
		f.uint64(&tr.StreamID)
		if f.err != nil {
			return nil, fmt.Errorf("%w: throttle record: %s", ErrConfig, f.err)
		}
		return tr, nil
	default:
		return &UnknownRecord{RecordHeader: hdr}, nil
	}
}

func decodeSample(hdr RecordHeader, payload []byte, format SampleFormat) (*SampleRecord, error) {
	f := &fields{data: payload}
	sr := &SampleRecord{RecordHeader: hdr}

	readU64 := func(on bool) *uint64 {
		if !on {
			return nil
		}
		var v uint64
		f.uint64(&v)
		return &v
	}

	sr.Identifier = readU64(format.Identifier)
	sr.IP = readU64(format.IP)
	if format.Tid {
		var pid, tid uint32
		f.uint32pair(&pid, &tid)
		sr.Pid, sr.Tid = &pid, &tid
	}
	sr.Time = readU64(format.Time)
	sr.Addr = readU64(format.Addr)
	sr.ID = readU64(format.ID)
	sr.StreamID = readU64(format.StreamID)
	if format.CPU {
		var cpu, res uint32
		f.uint32pair(&cpu, &res)
		sr.CPU = &cpu
	}
	sr.Period = readU64(format.Period)
	if format.Read {
		// Non-group read format: value, time_enabled, time_running.
		// The session always opens sampling counters with both times.
		var value, enabled, running uint64
		f.uint64(&value)
		f.uint64(&enabled)
		f.uint64(&running)
		sr.Value = &RawCount{
			Value:       value,
			TimeEnabled: durationFromNanos(enabled),
			TimeRunning: durationFromNanos(running),
		}
	}
	if format.Callchain {
		var nr uint64
		f.uint64(&nr)
		if f.err == nil && nr > uint64(len(f.data)-f.off)/8 {
			return nil, fmt.Errorf("%w: callchain length %d exceeds payload", ErrConfig, nr)
		}
		sr.Callchain = make([]uint64, nr)
		for i := range sr.Callchain {
			f.uint64(&sr.Callchain[i])
		}
	}

	if f.err != nil {
		return nil, fmt.Errorf("%w: sample record: %s", ErrConfig, f.err)
	}
	// The declared length must account for every payload byte. A
	// mismatch means the format bitmask disagrees with the producer;
	// decoding further records would misalign.
	if f.off != len(f.data) {
		return nil, fmt.Errorf("%w: sample payload is %d bytes, decoded %d",
			ErrConfig, len(f.data), f.off)
	}
	return sr, nil
}
