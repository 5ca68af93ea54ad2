// Package dashboard contains the data orchestration core: the sentiment
// cache, the fetch dispatcher, the sequential prefetch driver, the
// round-robin background refresh scheduler, and the selection controller.
// All state is owned by a single engine goroutine (actor pattern); inference
// calls run in their own goroutines and report back as commands.
package dashboard
