package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/lull/internal/domain"
)

// SyncProgressMsg carries one sync observer event
type SyncProgressMsg struct {
	Progress domain.SyncProgress
	NextCmd  tea.Cmd
}

// DownloadProgressMsg carries one download listener event
type DownloadProgressMsg struct {
	Progress domain.DownloadProgress
	NextCmd  tea.Cmd
}

// JobDoneMsg signals that the tracked work returned
type JobDoneMsg struct {
	Final     []domain.DownloadProgress
	UsedBytes int64
	Err       error
}
