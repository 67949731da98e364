package offline

import (
	"context"

	"github.com/oshimpathan/sharesathi/cache"
)

// ResultTag identifies which branch of a revalidation produced the result.
type ResultTag int

const (
	TagStale ResultTag = iota + 1
	TagFresh
	TagFailed
)

func (t ResultTag) String() string {
	switch t {
	case TagStale:
		return "stale"
	case TagFresh:
		return "fresh"
	case TagFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of racing a stale lookup against a live fetch.
type Result struct {
	Tag   ResultTag
	Entry *cache.Entry // set for TagStale and TagFresh
	Err   error        // set for TagFailed
}

// liveResult is what the live fetch goroutine reports.
type liveResult struct {
	entry *cache.Entry
	err   error
}

// settle applies the stale-while-revalidate priority rule. It waits for the
// stale lookup; a present candidate wins immediately. Otherwise it waits for
// the live fetch. A value that is already available is preferred over the
// caller's cancellation. Both channels must be buffered so that the sides
// never block on an abandoned settle.
func settle(ctx context.Context, stale <-chan *cache.Entry, live <-chan liveResult) Result {
	entry, ok := receive(ctx, stale)
	if !ok {
		return Result{Tag: TagFailed, Err: ctx.Err()}
	}
	if entry != nil {
		return Result{Tag: TagStale, Entry: entry}
	}

	lr, ok := receive(ctx, live)
	if !ok {
		return Result{Tag: TagFailed, Err: ctx.Err()}
	}
	if lr.err != nil {
		return Result{Tag: TagFailed, Err: lr.err}
	}
	return Result{Tag: TagFresh, Entry: lr.entry}
}

// receive takes a ready value from ch before looking at ctx, then blocks on
// whichever comes first. ok is false when ctx ended first.
func receive[T any](ctx context.Context, ch <-chan T) (v T, ok bool) {
	select {
	case v = <-ch:
		return v, true
	default:
	}
	select {
	case v = <-ch:
		return v, true
	case <-ctx.Done():
		return v, false
	}
}
