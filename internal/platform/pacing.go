package platform

import (
	"strings"
	"time"
)

// Family is a pacing-table bucket. Endpoints are matched by substring; the
// matched family decides the minimum interval between two dispatches to it
// and whether the operation mutates server-side state.
type Family struct {
	Name        string
	Match       string // substring matched against the endpoint path
	MinInterval time.Duration

	// StateChanging operations may partially succeed server-side; a bare
	// HTTP 500 on them is never retried automatically.
	StateChanging bool
}

// defaultFamily covers every endpoint the table does not name.
var defaultFamily = Family{Name: "default", MinInterval: 50 * time.Millisecond}

// DefaultFamilies is the pacing table for the platform's known operation
// families. The substring match is a heuristic allowlist, not a guarantee
// of idempotency; new endpoint families need a row here when they ship.
var DefaultFamilies = []Family{
	{Name: "transfer", Match: "/TransferItem", MinInterval: 100 * time.Millisecond, StateChanging: true},
	{Name: "pull", Match: "/PullFromPostmaster", MinInterval: 100 * time.Millisecond, StateChanging: true},
	{Name: "equip", Match: "/EquipItem", MinInterval: 250 * time.Millisecond, StateChanging: true},
	{Name: "insert_plug", Match: "/InsertSocketPlug", MinInterval: 500 * time.Millisecond, StateChanging: true},
	{Name: "loadout", Match: "/Loadouts/Snapshot", MinInterval: 1000 * time.Millisecond, StateChanging: true},
	{Name: "lock_state", Match: "/SetLockState", MinInterval: 250 * time.Millisecond, StateChanging: true},
}

// PacingTable resolves endpoints to families and holds the global floor
// between any two dispatches.
type PacingTable struct {
	families  []Family
	globalMin time.Duration
}

// NewPacingTable builds a table from the given families. Zero values fall
// back to the defaults.
func NewPacingTable(families []Family, globalMin time.Duration) *PacingTable {
	if families == nil {
		families = DefaultFamilies
	}
	if globalMin <= 0 {
		globalMin = 50 * time.Millisecond
	}
	return &PacingTable{families: families, globalMin: globalMin}
}

// Lookup returns the family for an endpoint. First match wins.
func (t *PacingTable) Lookup(endpoint string) Family {
	for _, f := range t.families {
		if strings.Contains(endpoint, f.Match) {
			return f
		}
	}
	return defaultFamily
}

// GlobalMin is the minimum spacing between any two dispatches.
func (t *PacingTable) GlobalMin() time.Duration {
	return t.globalMin
}
