// Package model defines the shared types of the referral platform.
//
// The types fall into three groups:
//   - Configuration: programs, circles, promoters, links and automations
//     (Automation, Condition, Effect). Configuration is read-only while
//     events are processed.
//   - Base records: signups, purchases and commissions. Every mutation of a
//     base record feeds the aggregation pipeline.
//   - Rollups: per-day rows (DayRollup) and all-time rows (Rollup) for the
//     promoter and link dimensions.
//
// Money is represented with shopspring/decimal throughout. Amounts cross the
// storage boundary as decimal strings so sums never go through float64.
package model
