// Package player hands a playable URL to an external audio player.
package player

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// playerArgs are the arguments each known player needs for audio-only playback
var playerArgs = map[string][]string{
	"mpv":    {"--no-video", "--force-window=no"},
	"vlc":    {"--intf", "dummy", "--play-and-exit"},
	"ffplay": {"-nodisp", "-autoexit", "-loglevel", "error"},
	"afplay": {},
}

// candidatePlayers defines the preferred player order for each platform
var candidatePlayers = map[string][]string{
	"darwin":  {"mpv", "afplay", "vlc"},
	"linux":   {"mpv", "ffplay", "vlc"},
	"windows": {"mpv", "vlc", "ffplay"},
}

// Launcher launches media URLs in an external player
type Launcher struct {
	command string   // configured player command, empty to auto-detect
	args    []string // additional arguments for the player
	logger  *slog.Logger

	lookPath func(string) (string, error)
	start    func(name string, args ...string) error
}

// NewLauncher creates a new Launcher
func NewLauncher(command string, args []string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		command:  command,
		args:     args,
		logger:   logger,
		lookPath: exec.LookPath,
		start: func(name string, args ...string) error {
			return exec.Command(name, args...).Start()
		},
	}
}

// Launch opens url in the configured player, the first installed candidate
// player, or the system default handler, in that order.
func (l *Launcher) Launch(url string) error {
	if url == "" {
		return errors.New("nothing to play: empty url")
	}

	if l.command != "" {
		args := append(append([]string{}, l.args...), url)
		l.logger.Info("launching player", "command", l.command, "args", l.args)
		if err := l.start(l.command, args...); err != nil {
			return fmt.Errorf("launch %s: %w", l.command, err)
		}
		return nil
	}

	if name, err := l.detectAndLaunch(url); err == nil {
		l.logger.Info("launched with detected player", "player", name)
		return nil
	}

	l.logger.Info("no candidate players found, using system default")
	return l.launchDefault(url)
}

// detectAndLaunch tries candidate players in order and returns the one that started
func (l *Launcher) detectAndLaunch(url string) (string, error) {
	candidates, ok := candidatePlayers[runtime.GOOS]
	if !ok {
		candidates = candidatePlayers["linux"]
	}
	for _, name := range candidates {
		path, err := l.lookPath(name)
		if err != nil {
			l.logger.Debug("player not installed", "player", name)
			continue
		}
		args := append(append([]string{}, playerArgs[name]...), url)
		if err := l.start(path, args...); err != nil {
			l.logger.Debug("player failed to start", "player", name, "error", err)
			continue
		}
		return name, nil
	}
	return "", errors.New("no candidate players found")
}

// launchDefault opens the URL using the system default handler
func (l *Launcher) launchDefault(url string) error {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = l.start("open", url)
	case "windows":
		err = l.start("cmd", "/c", "start", "", url)
	default:
		err = l.start("xdg-open", url)
	}
	if err != nil {
		return fmt.Errorf("open with system default: %w", err)
	}
	return nil
}
