// File path: internal/atom/snapshot.go
package atom

// Dependency is one directed edge: AtomName depends on DependsOn.
type Dependency struct {
	AtomName  string `json:"atom_name" db:"atom_name"`
	DependsOn string `json:"depends_on" db:"depends_on"`
}

// SnapshotAtom is the atom shape preserved inside a snapshot. Embeddings are
// deliberately excluded; they are regenerated on restore.
type SnapshotAtom struct {
	Name        string `json:"name"`
	Type        Type   `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Inputs      []Port `json:"inputs"`
	Outputs     []Port `json:"outputs"`
}

// Snapshot is a self-contained point-in-time copy of a game's atom and edge
// set. It is embedded by value in a build record and is the unit of rollback.
type Snapshot struct {
	Atoms        []SnapshotAtom `json:"atoms"`
	Dependencies []Dependency   `json:"dependencies"`
}

// Empty reports whether the snapshot carries no atoms.
func (s Snapshot) Empty() bool {
	return len(s.Atoms) == 0
}
