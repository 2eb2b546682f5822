// Package store provides SQLite-backed storage for the referral platform.
//
// The store holds three groups of tables:
//   - Configuration: programs, circles, promoters, links, automations and
//     their conditions, plus the single circle membership row per promoter
//   - Base records: signups, purchases and commissions, with the
//     automation_firings table making commission effects idempotent
//   - Rollups: promoter_stats_daily / promoter_stats and
//     link_stats_daily / link_stats
//
// # Conventions
//
//   - Timestamps are stored as fixed-width UTC text (see timeLayout), so a
//     calendar day is the half-open text range [day, next day)
//   - Money is stored as decimal text and summed in Go with shopspring/decimal
//   - Base-record inserts use ON CONFLICT(id) DO NOTHING; retries are no-ops
//   - Rollup writes are upserts; day rows keep created_at and bump updated_at
//   - List queries always carry an ORDER BY so results are deterministic
//
// # Transactions
//
// Every data operation is a method on *Tx. Store embeds a *Tx bound to the
// database for single statements; Store.InTx hands fn a *Tx bound to a
// transaction. Transactions begin IMMEDIATE and the pool holds a single
// connection, so writers are serialized.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
