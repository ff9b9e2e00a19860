package optimistic

import (
	"github.com/leaseline-dev/leaseline/pkg/restapi"
)

// ToggleEngine is an UpdateEngine specialized for boolean flips, such as a
// task's completed checkbox.
//
// The value is persisted as {field: value} and confirmed from the same field
// of the response's data object. When the response shape carries no usable
// boolean there, the locally applied value is treated as confirmed; an
// ambiguous success never triggers rollback.
type ToggleEngine struct {
	u     *UpdateEngine[bool]
	field string
}

// NewToggle creates a toggle engine for the named boolean field of the
// entity at endpoint, baselined at initial.
func NewToggle(client *restapi.Client, endpoint, field string, initial bool, opts ...UpdateOption[bool]) *ToggleEngine {
	all := make([]UpdateOption[bool], 0, len(opts)+1)
	all = append(all, WithField[bool](field))
	all = append(all, opts...)
	return &ToggleEngine{
		u:     NewUpdate(client, endpoint, initial, all...),
		field: field,
	}
}

// Toggle flips the current value and persists the flip. It returns the value
// now displayed.
func (t *ToggleEngine) Toggle() bool {
	next := !t.u.Value()
	t.u.Update(next)
	return next
}

// Set persists an explicit value instead of flipping.
func (t *ToggleEngine) Set(v bool) {
	t.u.Update(v)
}

// Value returns the boolean the UI should display right now.
func (t *ToggleEngine) Value() bool { return t.u.Value() }

// Confirmed returns the last server-confirmed value.
func (t *ToggleEngine) Confirmed() bool { return t.u.Confirmed() }

// State returns the engine's current reconciliation state.
func (t *ToggleEngine) State() State { return t.u.State() }

// Err returns the failure recorded by the last settled call, or nil.
func (t *ToggleEngine) Err() error { return t.u.Err() }

// Reset restores the last confirmed value and clears the error.
func (t *ToggleEngine) Reset() { t.u.Reset() }

// Rebase re-baselines to fresh server data.
func (t *ToggleEngine) Rebase(v bool) { t.u.Rebase(v) }

// Close aborts in-flight work and makes the engine inert.
func (t *ToggleEngine) Close() { t.u.Close() }
