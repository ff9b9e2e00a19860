// Package optimistic provides engines that apply edits to local state
// instantly and reconcile them with the server afterwards.
//
// Each engine owns the reconciliation state for exactly one editable field,
// toggle, or list operation. An engine applies the caller's value
// synchronously, issues a single network call (optionally debounced), and on
// settlement either adopts the server-confirmed value or rolls the local
// value back to the last confirmed one. Superseded calls are aborted and
// their results discarded, so only the most recent edit ever decides final
// state.
//
// Engines never panic across the reconciliation boundary and never report an
// abort as a failure. Errors are exposed through Err and an optional OnError
// callback, always after rollback has completed, so a caller inspecting the
// engine during the callback never observes a half-applied value.
//
// The engine family:
//
//   - UpdateEngine: a single remote-backed field of any type
//   - ToggleEngine: boolean flips with named-field confirmation
//   - CreateEngine: list insertion with temporary-ID staging
//   - DeleteEngine: list removal
//
// List-owning callers keep ownership of their list state: Create and Delete
// are pure request/reconciliation helpers and hold no items themselves.
package optimistic
