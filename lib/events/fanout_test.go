/*
Copyright 2024 Flotilla Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/api/types"
)

func newItem(id string) types.UpdateListItem {
	return types.UpdateListItem{
		ID:        id,
		Operation: types.OperationDeployContainer,
		Target:    types.NewResourceTarget(types.KindServer, "srv-1"),
		Status:    types.UpdateStatusInProgress,
	}
}

func TestFanoutFIFO(t *testing.T) {
	f := NewFanout(FanoutConfig{})
	defer f.Close()

	sub := f.Subscribe()
	defer sub.Close()

	for i := 0; i < 10; i++ {
		f.Publish(newItem(fmt.Sprintf("u-%d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		item, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("u-%d", i), item.ID)
	}
}

func TestFanoutNoReplay(t *testing.T) {
	f := NewFanout(FanoutConfig{})
	defer f.Close()

	f.Publish(newItem("before"))

	sub := f.Subscribe()
	defer sub.Close()

	f.Publish(newItem("after"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	item, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "after", item.ID)
}

func TestFanoutDropsOldestPerSubscriber(t *testing.T) {
	f := NewFanout(FanoutConfig{Capacity: 4})
	defer f.Close()

	lagging := f.Subscribe()
	defer lagging.Close()
	healthy := f.Subscribe()
	defer healthy.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The healthy subscriber keeps up while the lagging one reads
	// nothing; publishing never blocks either way.
	for i := 0; i < 8; i++ {
		f.Publish(newItem(fmt.Sprintf("u-%d", i)))
		item, err := healthy.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("u-%d", i), item.ID)
	}

	// The lagging subscriber lost the oldest items but retains FIFO
	// order over the survivors.
	for i := 4; i < 8; i++ {
		item, err := lagging.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("u-%d", i), item.ID)
	}
}

func TestFanoutNextCancellation(t *testing.T) {
	f := NewFanout(FanoutConfig{})
	defer f.Close()

	sub := f.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not observe cancellation")
	}
}

func TestFanoutClose(t *testing.T) {
	f := NewFanout(FanoutConfig{})
	sub := f.Subscribe()

	f.Publish(newItem("pending"))
	f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Items published before close are still drained, then the terminal
	// error is reported.
	item, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "pending", item.ID)

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, ErrFanoutClosed)

	// Publishing after close is a no-op.
	f.Publish(newItem("ignored"))
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, ErrFanoutClosed)
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	f := NewFanout(FanoutConfig{})
	defer f.Close()

	sub := f.Subscribe()
	sub.Close()
	sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, ErrSubscriptionClosed)
}
