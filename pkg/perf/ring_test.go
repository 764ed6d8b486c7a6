// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRing is a synthetic ring a test controls as the producer: it
// writes records at head the way the kernel does, wrapping modulo the
// data length.
type testRing struct {
	head uint64
	tail uint64
	data []byte
	ring *ringBuffer
}

func newTestRing(t *testing.T, size int, format SampleFormat) *testRing {
	t.Helper()
	tr := &testRing{data: make([]byte, size)}
	ring, err := newRingBuffer(&tr.head, &tr.tail, tr.data, format)
	require.NoError(t, err)
	tr.ring = ring
	return tr
}

// produce appends one complete record at head.
func (tr *testRing) produce(typ RecordType, body []byte) {
	buf := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:], uint32(typ))
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(buf)))
	copy(buf[headerSize:], body)

	size := uint64(len(tr.data))
	for i, b := range buf {
		tr.data[(tr.head+uint64(i))&(size-1)] = b
	}
	tr.head += uint64(len(buf))
}

func collect(t *testing.T, ring *ringBuffer) []Record {
	t.Helper()
	var out []Record
	n, err := ring.poll(func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, out, n)
	return out
}

func TestNewRingBufferValidation(t *testing.T) {
	var head, tail uint64

	_, err := newRingBuffer(&head, &tail, make([]byte, 100), SampleFormat{})
	assert.ErrorIs(t, err, ErrMapping)

	_, err = newRingBuffer(&head, &tail, nil, SampleFormat{})
	assert.ErrorIs(t, err, ErrMapping)

	_, err = newRingBuffer(&head, &tail, make([]byte, 128), SampleFormat{})
	assert.NoError(t, err)
}

func TestRingPoll(t *testing.T) {
	format := SampleFormat{IP: true, Period: true}

	t.Run("empty ring consumes nothing", func(t *testing.T) {
		tr := newTestRing(t, 256, format)
		assert.Empty(t, collect(t, tr.ring))
	})

	t.Run("records arrive in order without loss", func(t *testing.T) {
		tr := newTestRing(t, 256, format)
		for i := uint64(0); i < 5; i++ {
			tr.produce(RecordTypeSample, payload(0x1000+i, 4000))
		}

		recs := collect(t, tr.ring)
		require.Len(t, recs, 5)
		for i, rec := range recs {
			sr, ok := rec.(*SampleRecord)
			require.True(t, ok)
			assert.Equal(t, 0x1000+uint64(i), *sr.IP)
		}
		assert.Equal(t, tr.head, tr.tail, "tail must catch up to head")
	})

	t.Run("record straddling the wraparound is reassembled", func(t *testing.T) {
		tr := newTestRing(t, 128, format)

		// Fill and drain most of the ring so the next record starts a
		// few bytes before the physical end.
		for tr.head < 120 {
			tr.produce(RecordTypeSample, payload(1, 1))
		}
		collect(t, tr.ring)
		require.Less(t, tr.head%128, uint64(128))
		require.NotZero(t, tr.head%128)

		tr.produce(RecordTypeSample, payload(0xabcdef, 7777))
		require.Greater(t, tr.head, uint64(128), "record must cross the boundary")

		recs := collect(t, tr.ring)
		require.Len(t, recs, 1)
		sr := recs[0].(*SampleRecord)
		assert.Equal(t, uint64(0xabcdef), *sr.IP)
		assert.Equal(t, uint64(7777), *sr.Period)
	})

	t.Run("incomplete record waits for the next poll", func(t *testing.T) {
		tr := newTestRing(t, 256, format)
		tr.produce(RecordTypeSample, payload(1, 2))

		// Advance head past a record the producer has not written yet.
		written := tr.head
		tr.head += 4 // less than a header

		recs := collect(t, tr.ring)
		require.Len(t, recs, 1)
		assert.Equal(t, written, tr.tail, "tail must stop at the unwritten record")

		// Header visible but payload still short of head.
		var hdr [headerSize]byte
		binary.LittleEndian.PutUint32(hdr[0:], uint32(RecordTypeSample))
		binary.LittleEndian.PutUint16(hdr[6:], headerSize+16)
		copy(tr.data[tr.tail&255:], hdr[:])
		tr.head = tr.tail + headerSize + 8

		assert.Empty(t, collect(t, tr.ring))
		assert.Equal(t, written, tr.tail)

		// Producer finishes; the record is consumed on the next poll.
		tr.head = written
		tr.produce(RecordTypeSample, payload(3, 4))
		assert.Len(t, collect(t, tr.ring), 1)
	})

	t.Run("lost records are surfaced not dropped", func(t *testing.T) {
		tr := newTestRing(t, 256, format)
		tr.produce(RecordTypeSample, payload(1, 2))
		tr.produce(RecordTypeLost, payload(9, 300))
		tr.produce(RecordTypeSample, payload(5, 6))

		recs := collect(t, tr.ring)
		require.Len(t, recs, 3)
		lr, ok := recs[1].(*LostRecord)
		require.True(t, ok)
		assert.Equal(t, uint64(300), lr.Lost)
	})

	t.Run("undersized header is an error", func(t *testing.T) {
		tr := newTestRing(t, 256, format)
		var hdr [headerSize]byte
		binary.LittleEndian.PutUint32(hdr[0:], uint32(RecordTypeSample))
		binary.LittleEndian.PutUint16(hdr[6:], 4)
		copy(tr.data, hdr[:])
		tr.head = headerSize

		_, err := tr.ring.poll(func(Record) error { return nil })
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("bad record does not wedge the ring", func(t *testing.T) {
		tr := newTestRing(t, 256, format)
		// First record's payload is short for the format.
		tr.produce(RecordTypeSample, payload(1))
		tr.produce(RecordTypeSample, payload(2, 3))

		_, err := tr.ring.poll(func(Record) error { return nil })
		require.ErrorIs(t, err, ErrConfig)

		// Tail advanced past the bad record; the good one still decodes.
		recs := collect(t, tr.ring)
		require.Len(t, recs, 1)
		assert.Equal(t, uint64(2), *recs[0].(*SampleRecord).IP)
	})

	t.Run("emit error stops consumption", func(t *testing.T) {
		tr := newTestRing(t, 256, format)
		tr.produce(RecordTypeSample, payload(1, 2))
		tr.produce(RecordTypeSample, payload(3, 4))

		sentinel := errors.New("stop")
		n, err := tr.ring.poll(func(Record) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
		assert.Zero(t, n)

		// The failed record was already consumed; only one remains.
		assert.Len(t, collect(t, tr.ring), 1)
	})
}
