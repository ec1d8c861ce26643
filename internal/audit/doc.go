// Package audit stores the gateway's audit trail in the audit_logs table.
//
// Door access events reach the trail through Recorder, an event listener
// registered on each connected door-access adapter. The application layer
// reads the trail back with Repository.List.
package audit
