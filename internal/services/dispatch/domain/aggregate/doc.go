// Package aggregate executes commands against in-memory aggregate state and
// folds the resulting events back into it.
//
// State changes only through Folder.Apply. Executor.Execute never touches
// state: it checks the command targets this aggregate, runs the mapper and
// returns the event the command produces. Apply is fail-safe because it also
// runs during replay, where skipping one bad event is preferable to halting.
package aggregate
