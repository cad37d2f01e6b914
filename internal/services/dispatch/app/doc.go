// Package app wires the dispatch runtime: storage backend, middleware,
// aggregate registry and the bundled account aggregate.
package app
