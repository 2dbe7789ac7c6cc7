package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mmcdole/lull/internal/domain"
)

// Job is the work a progress view waits on. It returns the final state of
// every download it touched, or nil when it only syncs.
type Job func(ctx context.Context) ([]domain.DownloadProgress, error)

// runJobCmd runs job and reports its outcome
func runJobCmd(ctx context.Context, job Job, usedBytes func() int64) tea.Cmd {
	return func() tea.Msg {
		final, err := job(ctx)
		msg := JobDoneMsg{Final: final, Err: err}
		if usedBytes != nil {
			msg.UsedBytes = usedBytes()
		}
		return msg
	}
}

// listenSyncCmd reads the next sync event. A nil channel never yields.
func listenSyncCmd(ch <-chan domain.SyncProgress) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return SyncProgressMsg{Progress: p, NextCmd: listenSyncCmd(ch)}
	}
}

// listenDownloadCmd reads the next download event
func listenDownloadCmd(ch <-chan domain.DownloadProgress) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return DownloadProgressMsg{Progress: p, NextCmd: listenDownloadCmd(ch)}
	}
}
