// Package cmd implements the command-line interface for the varstore record
// storage engine. It provides a hierarchical command structure with
// operations for inspecting and verifying storage directories and for
// benchmarking the engine.
//
// The package is organized into several subpackages:
//
//   - inspect: Command for printing the frame header and checksum verdict of a record file
//   - verify: Command for scanning a storage directory and reporting unreadable keys
//   - bench: Command for running engine benchmarks against a directory
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See varstore -help for a list of all commands.
package cmd
