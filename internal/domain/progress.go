package domain

// Entity names a synchronized catalog collection.
type Entity string

const (
	EntityCategories   Entity = "categories"
	EntityTracks       Entity = "tracks"
	EntityHomeSections Entity = "home_sections"
)

// SyncResult summarizes what happened during a sync pass.
// Added+Updated+Unchanged equals the remote snapshot size; Deleted counts local rows
// that were absent from the snapshot.
type SyncResult struct {
	Entity      Entity
	Added       int
	Updated     int
	Unchanged   int  // only non-zero with hash-diff reconciliation
	Deleted     int
	NotModified bool // remote answered 304; nothing was written
	FromCache   bool // remote unreachable; reads are served from cache
	UpdateOnly  bool // snapshot looked partial so deletes were skipped
}

// Total returns the number of rows present after the pass.
func (r SyncResult) Total() int {
	return r.Added + r.Updated + r.Unchanged
}
