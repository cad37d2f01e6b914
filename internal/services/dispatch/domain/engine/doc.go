// Package engine runs commands end to end against aggregate instances.
//
// A handled command resolves its aggregate and command definitions, loads the
// instance (latest snapshot plus the journal events recorded after it), runs
// the effective middleware chain around aggregate execution, appends the
// produced event to the journal, folds it into state and captures a snapshot
// once enough events were applied since the last one.
//
// Commands for one aggregate instance are serialized; different instances run
// concurrently.
package engine
