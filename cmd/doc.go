// Package cmd implements the command-line interface for the strataKV storage
// engine. It provides a hierarchical command structure for inspecting and
// exercising a local engine instance.
//
// The package is organized into several subpackages:
//
//   - bench: Benchmarks for the core engine operations against local tiers
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See strata -help for a list of all commands.
package cmd
