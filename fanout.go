package main

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// FanOutCollector executes a batch of model calls concurrently and joins on
// all of them. Every call carries its own timeout; a slow or failing provider
// yields an error result in place, never a missing entry, and never aborts
// its siblings.
type FanOutCollector struct {
	client  *OpenRouterClient
	timeout time.Duration
}

// NewFanOutCollector creates a collector with the given per-call timeout.
func NewFanOutCollector(client *OpenRouterClient, timeout time.Duration) *FanOutCollector {
	return &FanOutCollector{client: client, timeout: timeout}
}

// Collect runs all calls in parallel and returns one result per call, in
// submission order. It returns only when every call has settled.
func (f *FanOutCollector) Collect(ctx context.Context, calls []ModelCall) []ModelCallResult {
	results := make([]ModelCallResult, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			start := time.Now()
			response, err := f.client.QueryModel(ctx, call.Model, call.Messages, f.timeout)
			results[i] = ModelCallResult{
				Model:    call.Model,
				Response: response,
				Err:      err,
				Elapsed:  time.Since(start),
			}
			// Graceful degradation: failures stay in the result set instead
			// of cancelling the batch.
			if err != nil {
				log.Printf("Error querying model %s: %v", call.Model, err)
			}
			return nil
		})
	}

	// Each goroutine writes a distinct index, so the barrier is the only
	// synchronization needed.
	g.Wait()

	return results
}

// CountUsable returns how many results carry usable response text.
func CountUsable(results []ModelCallResult) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}
