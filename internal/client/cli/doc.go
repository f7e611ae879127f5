// Package cli provides the registry admin command-line client.
//
// With arguments it runs a single command and exits; without, it starts a
// REPL that accepts the same commands one per line. Results are printed as
// indented JSON.
package cli
