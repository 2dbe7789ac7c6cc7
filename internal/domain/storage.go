package domain

// SyncProgress reports progress during catalog synchronization.
type SyncProgress struct {
	Entity    Entity
	Started   bool
	Done      bool
	FromCache bool
	Result    SyncResult
	Error     error
}

// SyncObserver receives progress updates during sync operations.
type SyncObserver interface {
	OnProgress(progress SyncProgress)
}

// NoOpObserver discards progress updates (for testing/batch operations).
type NoOpObserver struct{}

func (NoOpObserver) OnProgress(SyncProgress) {}
