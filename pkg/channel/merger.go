// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

// Package channel provides fan-in plumbing for collector output
// channels.
package channel

import (
	"reflect"
	"slices"
)

// Merger merges multiple input channels into a single output channel.
// Message delivery order is guaranteed within a single input channel.
// Used to fan per-CPU sampling sessions into one stream.
type Merger[T any] struct {
	out   chan T
	addCh chan (<-chan T)
	done  chan struct{}
}

// NewMerger creates a new Merger with initial input channels.
func NewMerger[T any](inputs ...<-chan T) *Merger[T] {
	buf := 0
	for _, ch := range inputs {
		if cap(ch) > buf {
			buf = cap(ch)
		}
	}

	m := &Merger[T]{
		out:   make(chan T, buf),
		addCh: make(chan (<-chan T)),
		done:  make(chan struct{}),
	}

	go m.run(inputs)

	return m
}

// Add adds a new input channel.
//
// When the input channel is closed, the output channel will stop
// receiving messages on that channel.
//
// This method can be called in multiple goroutines. Calling Add() after
// Close() will panic.
func (m *Merger[T]) Add(input <-chan T) {
	m.addCh <- input
}

// Out returns the output channel. Values from all input channels are
// merged into this channel. Its buffer matches the largest input
// buffer, so an unbuffered set of inputs yields an unbuffered output.
//
// The output channel closes when Close() is called.
func (m *Merger[T]) Out() <-chan T {
	return m.out
}

// Close the merger. This closes the output channel returned by Out().
// Calling Close a second time will panic.
func (m *Merger[T]) Close() {
	close(m.addCh)
	close(m.done)
}

func (m *Merger[T]) run(initialInputs []<-chan T) {
	defer close(m.out)

	cases := make([]reflect.SelectCase, 0, len(initialInputs)+2)
	for _, ch := range initialInputs {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(ch),
		})
	}

	// The control channels live at the tail so input indexes stay dense.
	cases = append(cases,
		reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(m.addCh),
		},
		reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(m.done),
		},
	)

	for {
		chosen, value, ok := reflect.Select(cases)

		switch chosen {
		case len(cases) - 1:
			// m.done was selected
			return
		case len(cases) - 2:
			// m.addCh was selected
			if !ok {
				return
			}
			newCh := value.Interface().(<-chan T)
			newCase := reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(newCh),
			}
			cases = slices.Insert(cases, len(cases)-2, newCase)
		default:
			// Input channel was selected
			if !ok {
				cases = slices.Delete(cases, chosen, chosen+1)
				continue
			}
			m.out <- value.Interface().(T)
		}
	}
}
