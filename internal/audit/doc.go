// Package audit records device activity in the audit_logs table.
//
// Entries are written by the HTTP API (pairing, removal, settings changes,
// capability commands) and by a device.ValueSink that logs availability
// edges. They are read back newest first through List.
package audit
