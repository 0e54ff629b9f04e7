// Package skein provides an embeddable, checkpointable scripting runtime
// for Go. Script instances never block a host thread: whenever script logic
// reaches a blocking call site — an asynchronous host invocation or an
// explicit checkpoint() — the runtime captures the full in-flight call stack
// into a serializable continuation chain, releases the worker, and resumes
// from that exact state once the awaited result arrives.
//
// The same snapshot mechanism provides application-level fault tolerance:
// chains captured at checkpoint() sites are persisted locally and replicated
// to a peer process, so a surviving process can reconstruct the chain and
// continue the script from its suspension point with at most one in-flight
// side effect per business request.
//
// Skein is designed as a library, not a service. Import it, configure a
// store and transport, and register compiled script functions.
//
// # Quick Start
//
//	rt, err := skein.New(
//	    skein.WithStore(memstore),
//	    skein.WithConcurrency(8),
//	)
//
// # Architecture
//
// The runtime follows a composable port pattern: persistence
// (checkpoint.Store), replication (replica.Peer), and transport
// (transport.Invoker) are interfaces; a single backend (memory, sqlite,
// postgres, redis) implements the persistence side. Wiring of the
// scheduler, interpreter, and checkpoint lifecycle manager is done by the
// engine package.
//
// Runtime-generated identities use TypeID — type-prefixed, K-sortable,
// UUIDv7-based identifiers. Business-supplied instance keys remain plain
// strings because they double as persistence and idempotency keys.
package skein
