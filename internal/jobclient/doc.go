// Package jobclient is the client process: it forwards RunJob requests to the
// provider network's router, tracks the job in progress, stores the images
// providers stream back, and answers admin requests from the local node.
// It is structured into small files by concern:
//
//   - client.go: Client type, constructor, simple getters and Status.
//   - config.go: Config and package defaults.
//   - types.go: persisted State.
//   - state.go: loading and saving State through a StateStore.
//   - dispatch.go: HandleMessage, routing to admin or public handlers.
//   - admin.go: SetRouterProcess, SetRollupSequencer, GetRollupState.
//   - public.go: RunJob forwarding, router responses, JobUpdate images.
//   - pending.go: RunJob forwards awaiting a router response.
//   - chainstate.go: reading the DAO state from the rollup sequencer.
//   - errors.go: error types and helpers (IsForbidden, IsNotConfigured, ...).
//   - events.go: EventPublisher and the events emitted by the handlers.
//   - eventpub_memory.go: in-memory EventPublisher for tests and tooling.
//   - metrics.go: Prometheus collectors for messages, jobs and images.
//
// Message handling is serialized on the state; network calls to the router
// and the sequencer run outside the lock so image updates keep flowing while
// a job is being submitted.
package jobclient
