// Package harness runs HWM scenarios: scripted sequences of incremental
// reads that exercise planning, boundaries and commits end to end.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: failed_run_keeps_hwm
//	description: "A failed read leaves the stored HWM untouched"
//	config: ../configs/shop.yaml   # relative to the scenario file
//	read: orders
//	tables:
//	  public.orders:
//	    - {name: id, type: bigint}
//	runs:
//	  - max: 100
//	    expect: {boundary: "(-, 100]"}
//	  - max: 180
//	    outcome: failure
//	assertions:
//	  - type: hwm_value
//	    value: "100"
//
// Each run sets the probe's MIN/MAX, plans the read and then commits
// (success, the default), abandons (failure) or leaves the plan proposed
// (pending). A run whose planning fails records the error code instead.
//
// # Assertion Types
//
//   - hwm_value: the stored HWM serialized value, or none when value is absent
//   - history_count: how many values were saved for the HWM
//   - query_contains: the query of a run contains a fragment
//   - proposal_status: the persisted status of a plan's proposal
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite HWM store with
// sequential plan ids (run-1, run-2, ...) and a stepping clock, so traces are
// identical across runs and can be compared with golden files.
package harness
