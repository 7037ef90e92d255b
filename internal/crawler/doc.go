// Package crawler holds the race record model and the small interfaces the
// crawl, storage, export and API layers are wired through.
package crawler
