package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStopConsumer_Drained(t *testing.T) {
	done := make(chan struct{})
	stop := func() { close(done) }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, stopConsumer(ctx, stop, done))
}

func TestStopConsumer_BlockedStopHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stop := func() { <-release }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.False(t, stopConsumer(ctx, stop, make(chan struct{})))
	require.Less(t, time.Since(start), time.Second)
}
