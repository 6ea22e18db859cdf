// Package pipeline imports worksheets into the import store.
//
// An import resolves a workbook location, streams the records of one
// sheet, applies an optional Starlark filter and transform to each record,
// checks it against the row policies and stores the accepted rows in
// batches. Violations are kept as import issues. Every import ends in one
// of the terminal statuses completed, failed or rejected:
//
//   - failed: the workbook could not be fetched, opened or read, or the
//     store rejected a write.
//   - rejected: FailOnViolation is set and at least one row had an error
//     or critical violation. A critical violation stops the import at once.
//   - completed: everything else, including imports whose rows were
//     filtered or individually rejected.
//
// ImportAll runs several imports with bounded parallelism, and Watcher
// imports workbooks as they appear in watched directories.
package pipeline
