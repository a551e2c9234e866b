package navigation

import "fmt"

// NoCommonAncestorError is raised when two menu-tree nodes share no
// ancestor, which never happens for a well-formed single-root tree but
// is guarded against rather than panicking (spec §9: no panics at a
// boundary).
type NoCommonAncestorError struct {
	From, To NodeID
}

func (e *NoCommonAncestorError) Error() string {
	return fmt.Sprintf("navigation: no common ancestor between node %d and %d", e.From, e.To)
}
