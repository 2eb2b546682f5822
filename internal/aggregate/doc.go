// Package aggregate maintains the day-wise and all-time rollup rows of the
// promoter and link dimensions.
//
// Every insert, update or delete of a signup, purchase or commission is
// handed to the matching hook (OnSignup, OnPurchase, OnCommission) inside
// the transaction that wrote the record. The hook resolves the affected
// buckets, recomputes each bucket's metrics from that key's records within
// that single day, upserts the day row, and then recomputes the all-time
// row as the sum of the key's day rows.
//
// Recomputing from the day window rather than adding deltas makes every
// hook idempotent: replaying a mutation leaves the rows unchanged.
package aggregate
