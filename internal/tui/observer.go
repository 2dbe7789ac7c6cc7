package tui

import "github.com/mmcdole/lull/internal/domain"

// ChannelObserver adapts domain.SyncObserver to a channel for Bubble Tea.
type ChannelObserver struct {
	ch chan<- domain.SyncProgress
}

// NewChannelObserver creates a new channel-based observer.
func NewChannelObserver(ch chan<- domain.SyncProgress) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

// OnProgress sends progress to the channel (non-blocking if full).
func (o *ChannelObserver) OnProgress(progress domain.SyncProgress) {
	select {
	case o.ch <- progress:
	default: // Non-blocking if channel full
	}
}

// ChannelListener adapts download progress to a channel (non-blocking if full).
// Final states also arrive through the job result, so a dropped event only
// delays a row's update.
func ChannelListener(ch chan<- domain.DownloadProgress) domain.ProgressListener {
	return func(p domain.DownloadProgress) {
		select {
		case ch <- p:
		default:
		}
	}
}
