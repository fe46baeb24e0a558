// Package notify buffers operator notifications and fans them out to sinks
// (logs, Prometheus, Pub/Sub) without ever blocking the crawl loop.
package notify
