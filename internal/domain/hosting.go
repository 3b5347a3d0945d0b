package domain

// MergeRequestRef identifies a merge request on the hosting platform and
// carries the pieces of its state the core reads back.
type MergeRequestRef struct {
	IID         int
	URL         string
	Description string
	State       string
}

// Open reports whether the merge request is still open.
func (m MergeRequestRef) Open() bool {
	return m.State != "merged" && m.State != "closed"
}
