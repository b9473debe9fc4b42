// Package engine validates, plans, and executes operation pipelines
// against storage targets.
//
// The engine is deliberately backend-agnostic: it speaks to targets
// through the Target and Tx interfaces and never inspects what is
// behind them. Everything backend-specific, including how operations
// map to queries, lives in the backend packages.
//
// ARCHITECTURE:
//
// Execution Flow:
//  1. Validate() checks the flattened pipeline structure and fails
//     fast with a ValidationError before anything runs.
//  2. The flattened steps group into execution units: contiguous
//     operations bound to the same target form one unit, in-process
//     operations and target switches stand alone, and a bound
//     sub-pipeline is one unit planned as a whole.
//  3. Each unit runs in order; the previous unit's result threads
//     into the next. A group runs inside a single transaction scope
//     on its target. A switch opens one scope per side.
//  4. Targets that implement Optimizer plan bound sub-pipelines:
//     a plan pushes a prefix of the work into the store, optionally
//     in a compiled form, and leaves the rest to run in process.
//
// Atomicity stops at unit boundaries. A failing unit aborts its own
// transaction and stops the run; units already committed stay
// committed, and the returned Trace records which was which.
//
// Contract violations (an unbound update, a result shape the next
// step cannot consume) surface as ContractError with a stable code.
// Backend failures pass through wrapped and untouched.
package engine
