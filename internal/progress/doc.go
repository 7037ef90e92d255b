// Package progress carries crawl progress events from the dispatcher to
// pluggable sinks. Events are buffered and batched on a background goroutine
// so emitting never blocks a worker.
package progress
