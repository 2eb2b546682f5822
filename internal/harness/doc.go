// Package harness replays referral scenarios against the real ingestion,
// engine and aggregation path.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	programs: ../programs
//	steps:
//	  - kind: purchase.created
//	    purchase:
//	      id: p1
//	      program_id: acme
//	      promoter_id: alice
//	      contact_id: c-1
//	      amount: "250.00"
//	      created_at: "2024-03-10T10:00:00Z"
//	  - kind: purchase.deleted
//	    id: p1
//	assertions:
//	  - type: outcome
//	    event: p1
//	    automation: ten-percent
//	    status: applied
//	  - type: rollup
//	    program: acme
//	    dimension: promoter
//	    id: alice
//	    date: "2024-03-10"
//	    expect: { purchases: "1", commission: "25.00" }
//
// Each step is one ingestion envelope, the same shape the ingest command
// reads. A step with expect_error must be rejected with a matching error.
//
// # Assertion Types
//
//   - outcome: an automation reached a status for an event, optionally with a reason
//   - commission_count: number of stored commissions in a program
//   - membership: the circle a promoter ends up in
//   - rollup: metrics of an all-time row, or of a day row when date is set
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory SQLite database with a
// testutil.DeterministicClock. Records carry explicit ids and timestamps,
// so the rendered snapshot is identical across runs and is compared
// against testdata/golden/{name}.golden.
package harness
