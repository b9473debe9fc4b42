// Package op defines the operation algebra pipelines are built from.
//
// An Operation is one immutable step: Create, Read, Update and Delete
// touch a storage target; Filter, Map, Reduce and Transform run in
// process over the previous step's result. Operations compose into a
// binary Pipeline tree with Then, Compose, Bind and Chain. Composition
// is left associative, so Compose(a, b, c) builds ((a, b), c) and
// Flatten returns [a, b, c].
//
// Binding attaches a step to a target. Then on two operations bound to
// different targets synthesizes a Switch: the source operation runs on
// the source target and its result feeds the next operation on the new
// target. Composing past a bound step auto-binds trailing storage
// operations to the same target; in-process operations are never
// bound.
//
// Operation, Node, Patch and Predicate are sealed interfaces. Every
// consumer switches exhaustively over the known variants, and the
// unexported marker methods keep other packages from adding more.
//
// Values in this package are never mutated after construction. Every
// builder returns a new value, so pipelines can be shared, cached by
// digest, and replanned freely.
package op
