// Package harness runs YAML scenarios against a real card store.
//
// Each scenario gets a fresh data directory with its own counter, lock,
// journal and (optionally) index. Steps call the repository and allocator
// directly and record one trace event per step; assertions then inspect the
// trace and the directory left behind.
//
// # Scenario Format
//
//	name: create_and_query
//	description: "Numbers are sequential and city queries filter"
//	lock_mode: create          # auto | flock | create (default create)
//	lock_timeout: 50ms         # default 10s
//	index: false               # route queries through the SQLite index
//	strict: false              # reject video/audio history entries
//	counter: 41                # initial counter contents
//	steps:
//	  - op: create
//	    args: { user_id: 1, city: A }
//	    expect:
//	      outcome: ok
//	      result: { number: "0001" }
//	  - op: query
//	    args: { city: A }
//	assertions:
//	  - type: card_state
//	    number: "0001"
//	    expect: { status: city_selected }
//	  - type: journal_lines
//	    count: 0
//
// # Operations
//
//   - next: allocate an id without creating a card
//   - create, load, update, set_fio, set_extra, append_history
//   - approve, reject
//   - query, list, find_user
//   - corrupt: overwrite a card file with raw content
//   - hold_lock, release_lock: take the counter lock from outside the allocator
//   - reindex, counts: rebuild and summarize the index
//
// Outcomes are ok, not_found, lock_timeout, io_failure, validation_failure,
// stale_revision, already_decided or error.
//
// # Assertion Types
//
//   - trace_count: an op appears exactly N times
//   - trace_order: ops appear in the given order
//   - card_state: a card loads and matches the expected fields
//   - card_missing: a card does not load
//   - journal_lines: the structural-error journal has N lines
//   - counter: the counter file holds a value
//   - no_artifacts: no temp files or lock file remain
//
// # Deterministic Testing
//
// History timestamps come from testutil.DeterministicClock, so traces are
// byte-identical across runs and can be compared against golden files.
package harness
