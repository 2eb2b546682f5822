// Package engine implements the automation ("function") engine.
//
// The engine reacts to trigger events published after a signup or purchase
// has been committed. For every event it:
//
//  1. Loads the program's automations with their conditions.
//  2. Takes one snapshot of the promoter's circle membership and signup and
//     purchase counts.
//  3. Evaluates every automation against that snapshot. An automation is
//     skipped when it is inactive, listens for another trigger, belongs to
//     a circle the promoter is not in, or has a false condition.
//  4. Applies each surviving automation's effect in its own transaction.
//
// Evaluation finishes before any effect is applied, so a circle switch made
// by one automation never changes the outcome of a sibling for the same event.
//
// Error handling:
//   - A condition that needs a fact the event lacks fails only its automation;
//     the errors are joined and returned after all siblings ran.
//   - A circle switch that finds the promoter outside the expected circle is a
//     soft failure: logged, reported in the Result, not returned.
//   - Storage errors abort the event. Effects already committed stay; retrying
//     the event is safe because every commission effect claims an
//     (event, automation) firing slot first.
package engine
