// Package harvest defines the adapter contract between the acquisition core
// and the per-publisher harvesters.
//
// A Harvester fetches one page of raw items from a remote source. Adapters are
// registered by name in a Registry; the name is the only coupling between the
// core and individual publishers, so browser-driven and plain-HTTP adapters
// are indistinguishable to callers. The package also owns the closed Query
// record that adapters read their parameters from, the error kinds the runner
// narrows into run statuses, and the normalization helpers shared by every
// adapter (canonical URLs, HTML cleanup, timestamp and language handling).
package harvest
