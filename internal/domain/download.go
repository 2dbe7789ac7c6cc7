package domain

import "time"

// DownloadStatus is the state of a track's download
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
	StatusPaused      DownloadStatus = "paused"
)

// Terminal reports whether no transfer is running in this state.
func (s DownloadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPaused
}

// transitions lists the legal moves of the per-track state machine.
// Removal (back to absent) is always legal and is not a status.
var transitions = map[DownloadStatus][]DownloadStatus{
	StatusPending:     {StatusDownloading, StatusFailed, StatusPaused},
	StatusDownloading: {StatusCompleted, StatusFailed, StatusPaused},
	StatusFailed:      {StatusDownloading},
	StatusPaused:      {StatusDownloading},
	StatusCompleted:   {StatusFailed}, // self-heal when the file went missing
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to DownloadStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DownloadRecord is the persisted state of one track's download.
// There is at most one record per track.
type DownloadRecord struct {
	TrackID        string
	Status         DownloadStatus
	Progress       int // 0-100
	LocalPath      string
	FileSize       int64
	DownloadedSize int64
	CreatedAt      time.Time
	CompletedAt    time.Time // zero until completed
	Error          string
}

// DownloadProgress is pushed to listeners while a transfer runs
type DownloadProgress struct {
	TrackID  string
	Progress int
	Status   DownloadStatus
	Error    string
	Removed  bool // record and files were deleted (cancel/delete)
}

// ProgressListener receives download progress events.
type ProgressListener func(DownloadProgress)

// Percent converts written/total bytes to 0-100. Unknown totals report 0.
func Percent(written, total int64) int {
	if total <= 0 || written <= 0 {
		return 0
	}
	if written >= total {
		return 100
	}
	return int(written * 100 / total)
}
