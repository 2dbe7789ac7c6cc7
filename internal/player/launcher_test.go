package player

import (
	"errors"
	"runtime"
	"testing"
)

type call struct {
	name string
	args []string
}

func fakeLauncher(command string, args []string, installed map[string]bool, failStart map[string]bool) (*Launcher, *[]call) {
	var calls []call
	l := NewLauncher(command, args, nil)
	l.lookPath = func(name string) (string, error) {
		if installed[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
	l.start = func(name string, args ...string) error {
		calls = append(calls, call{name, args})
		if failStart[name] {
			return errors.New("exec failed")
		}
		return nil
	}
	return l, &calls
}

func TestLaunchConfiguredPlayer(t *testing.T) {
	l, calls := fakeLauncher("mpv", []string{"--volume=50"}, nil, nil)
	if err := l.Launch("file:///tmp/t1.mp3"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	c := (*calls)[0]
	if c.name != "mpv" || len(c.args) != 2 || c.args[1] != "file:///tmp/t1.mp3" {
		t.Fatalf("call = %+v", c)
	}
}

func TestLaunchConfiguredPlayerError(t *testing.T) {
	l, _ := fakeLauncher("mpv", nil, nil, map[string]bool{"mpv": true})
	if err := l.Launch("https://x/t1.mp3"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLaunchDetectsCandidate(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("candidate order is platform specific")
	}
	l, calls := fakeLauncher("", nil, map[string]bool{"ffplay": true, "vlc": true}, nil)
	if err := l.Launch("https://x/t1.mp3"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if len(*calls) != 1 || (*calls)[0].name != "/usr/bin/ffplay" {
		t.Fatalf("calls = %+v, want ffplay", *calls)
	}
}

func TestLaunchFallsBackToSystemDefault(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("default handler is platform specific")
	}
	l, calls := fakeLauncher("", nil, nil, nil)
	if err := l.Launch("https://x/t1.mp3"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if len(*calls) != 1 || (*calls)[0].name != "xdg-open" {
		t.Fatalf("calls = %+v, want xdg-open", *calls)
	}
}

func TestLaunchEmptyURL(t *testing.T) {
	l, calls := fakeLauncher("mpv", nil, nil, nil)
	if err := l.Launch(""); err == nil || len(*calls) != 0 {
		t.Fatalf("err = %v calls = %v", err, *calls)
	}
}
