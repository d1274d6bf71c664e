// Package enricher defines the row model and the sequential enrichment loop.
//
// A Runner loads every row from a Source, skips rows already marked done,
// asks an EmailFetcher for each pending row and hands resolved rows to a Sink.
// The loop checks its wall-clock budget once per row boundary; an expired
// budget flushes the sink and ends the run without an error. Per-row failures
// are logged and leave the row pending for the next run. Sink failures abort.
package enricher
