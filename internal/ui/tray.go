package ui

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/looperlab/looper/internal/render"
)

const pollInterval = time.Second

// ActiveSource reports the in-flight render.
type ActiveSource interface {
	Active() (render.Active, bool)
}

type Tray struct {
	source ActiveSource
	url    string
	logger *slog.Logger

	statusItem *systray.MenuItem

	mu   sync.Mutex
	last string
	done chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Source ActiveSource
	URL    string
	Logger *slog.Logger
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		source: cfg.Source,
		url:    cfg.URL,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
		done:   make(chan struct{}),
	}
}

// Run blocks on the platform event loop.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Looper")
	systray.SetTooltip("Looper " + t.url)

	t.statusItem = systray.AddMenuItem(statusTitle(render.Active{}, false), "Current render")
	t.statusItem.Disable()

	systray.AddSeparator()

	openItem := systray.AddMenuItem("Open Looper", t.url)

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Looper")

	go t.poll()

	go func() {
		for {
			select {
			case <-openItem.ClickedCh:
				if err := openBrowser(t.url); err != nil {
					t.logger.Error("failed to open browser", "url", t.url, "error", err)
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.done)
	t.logger.Info("system tray exiting")
}

func (t *Tray) poll() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			active, ok := t.source.Active()
			t.UpdateStatus(statusTitle(active, ok))
		}
	}
}

// UpdateStatus sets the status line; unchanged titles are skipped.
func (t *Tray) UpdateStatus(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil || title == t.last {
		return
	}
	t.last = title
	t.statusItem.SetTitle(title)
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(active render.Active, ok bool) string {
	if !ok {
		return "Status: Idle"
	}
	return fmt.Sprintf("Rendering: %d%%", active.Progress)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
