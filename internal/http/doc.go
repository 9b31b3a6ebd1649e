// Package http provides HTTP handlers and middleware for the import API.
//
// The router exposes the following endpoints:
//   - POST /imports: builds a transaction. Accepts a JSON body
//     {"semester","rows","directoryRows","options"} or a multipart form with a
//     `file` export (.csv or .xlsx), optional `directory` export, `semester`,
//     `sheet`, `onRowError` (skip|abort) and `instructorFallback` (reject|demote).
//     Responds 201 with the transaction and its selection.
//   - GET /imports/{id}: the transaction with changes, issues, warnings and selection.
//   - PUT /imports/{id}/selection: body {"changeIds","fields"}; replaces the selection.
//   - PUT /imports/{id}/changes/{changeId}: body {"selected"}; toggles one change
//     and its group.
//   - POST /imports/{id}/commit: applies the selection. `?retry=true` resumes a
//     commit that failed part way.
//   - DELETE /imports/{id}: cancels a pending transaction.
//   - GET /metrics: prometheus metrics.
//
// Service errors map to 422 (validation and row errors), 404 (unknown
// transaction or change), 409 (wrong transaction state), 502 (store failure
// during commit) and 500 otherwise.
package http
