package main

import "context"

// stopConsumer runs stop and waits for done. It reports false once ctx expires.
func stopConsumer(ctx context.Context, stop func(), done <-chan struct{}) bool {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		stop()
		<-done
	}()
	select {
	case <-stopped:
		return true
	case <-ctx.Done():
		return false
	}
}
