// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePointCollector counts collections and can be made to fail.
type fakePointCollector struct {
	BaseCollector
	collections atomic.Uint64
	failWith    error
}

func newFakePointCollector(config CollectionConfig) *fakePointCollector {
	return &fakePointCollector{
		BaseCollector: NewBaseCollector(MetricTypeCPU, "fake", logr.Discard(), config,
			CollectorCapabilities{SupportsOneShot: true}),
	}
}

func (f *fakePointCollector) Collect(ctx context.Context) (any, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.collections.Add(1), nil
}

func TestContinuousPointCollector(t *testing.T) {
	config := DefaultCollectionConfig()
	config.Interval = 5 * time.Millisecond

	t.Run("streams on the interval", func(t *testing.T) {
		point := newFakePointCollector(config)
		c := NewContinuousPointCollector(point, logr.Discard(), config)

		ch, err := c.Start(context.Background())
		require.NoError(t, err)
		assert.Equal(t, CollectorStatusActive, c.Status())

		var got []any
		for data := range ch {
			got = append(got, data)
			if len(got) == 3 {
				break
			}
		}
		require.NoError(t, c.Stop())
		assert.Equal(t, CollectorStatusDisabled, c.Status())
		assert.Equal(t, uint64(1), got[0])
		assert.Equal(t, uint64(2), got[1])
	})

	t.Run("double start fails", func(t *testing.T) {
		c := NewContinuousPointCollector(newFakePointCollector(config), logr.Discard(), config)
		_, err := c.Start(context.Background())
		require.NoError(t, err)
		defer c.Stop()

		_, err = c.Start(context.Background())
		assert.Error(t, err)
	})

	t.Run("stop closes the channel", func(t *testing.T) {
		c := NewContinuousPointCollector(newFakePointCollector(config), logr.Discard(), config)
		ch, err := c.Start(context.Background())
		require.NoError(t, err)
		require.NoError(t, c.Stop())

		_, open := <-ch
		for open {
			_, open = <-ch
		}
		// Stop twice is a no-op.
		assert.NoError(t, c.Stop())
	})

	t.Run("collection errors set status", func(t *testing.T) {
		point := newFakePointCollector(config)
		point.failWith = errors.New("boom")
		c := NewContinuousPointCollector(point, logr.Discard(), config)

		_, err := c.Start(context.Background())
		require.NoError(t, err)
		defer c.Stop()

		assert.Eventually(t, func() bool {
			return c.Status() == CollectorStatusFailed
		}, time.Second, time.Millisecond)
		assert.Error(t, c.LastError())
	})
}
