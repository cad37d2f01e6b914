// Package command defines the command value consumed by the mapper.
//
// A command is a named, fielded record that targets one aggregate instance
// through its identity field and names the external action to invoke. Commands
// are built once per invocation and never mutated afterwards; every stage that
// needs different parameters works on a copy.
package command
