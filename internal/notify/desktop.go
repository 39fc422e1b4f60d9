package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	maxDesktopCommandLen = 140
	desktopQueueSize     = 32
	desktopTimeout       = 10 * time.Second
)

// DesktopNotifier shows one notification on the local desktop.
type DesktopNotifier interface {
	Notify(title, message string) error
}

// DesktopNotifierFunc adapts a function to DesktopNotifier.
type DesktopNotifierFunc func(title, message string) error

func (f DesktopNotifierFunc) Notify(title, message string) error {
	return f(title, message)
}

type desktopNote struct {
	title   string
	message string
}

// Desktop alerts the operator when a command starts waiting for approval.
// Each command is announced at most once. Publish only queues the alert;
// Run delivers it.
type Desktop struct {
	notifier DesktopNotifier
	logger   *log.Logger
	now      func() time.Time
	queue    chan desktopNote

	mu       sync.Mutex
	notified map[string]time.Time
}

// NewDesktop returns a sink that uses notifier, or the platform notifier
// when notifier is nil.
func NewDesktop(notifier DesktopNotifier, logger *log.Logger) *Desktop {
	if logger == nil {
		logger = log.Default()
	}
	if notifier == nil {
		notifier = DesktopNotifierFunc(SendDesktopNotification)
	}
	return &Desktop{
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan desktopNote, desktopQueueSize),
		notified: make(map[string]time.Time),
	}
}

// Run delivers queued alerts until ctx is done.
func (d *Desktop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case note := <-d.queue:
			if err := d.notifier.Notify(note.title, note.message); err != nil {
				d.logger.Warn("desktop notification failed", "error", err)
			}
		}
	}
}

// Publish implements Bus. Only admin command_submitted events for pending
// commands produce a notification. It never blocks: when the queue is full
// the alert is dropped.
func (d *Desktop) Publish(_ context.Context, topic string, evt Event) error {
	if topic != TopicAdmin || evt.Type != EventCommandSubmitted {
		return nil
	}
	data, ok := evt.Data.(map[string]any)
	if !ok || fmt.Sprint(data["status"]) != "PENDING_APPROVAL" {
		return nil
	}

	id := fmt.Sprint(data["command_id"])
	if !d.markOnce("pending:"+id, d.now()) {
		return nil
	}

	cmd := strings.TrimSpace(fmt.Sprint(data["command"]))
	if len(cmd) > maxDesktopCommandLen {
		cmd = cmd[:maxDesktopCommandLen] + "…"
	}
	note := desktopNote{
		title:   "cmdgate: approval needed",
		message: fmt.Sprintf("%s\nUser: %v\nID: %s", cmd, data["user_name"], id),
	}
	select {
	case d.queue <- note:
	default:
		d.logger.Warn("desktop notification dropped, queue full", "command_id", id)
	}
	return nil
}

func (d *Desktop) markOnce(key string, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.notified[key]; ok {
		return false
	}
	d.notified[key] = at
	return true
}

// SendDesktopNotification sends a best-effort desktop notification on the current platform.
func SendDesktopNotification(title, message string) error {
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	if title == "" {
		title = "cmdgate"
	}
	if message == "" {
		return fmt.Errorf("message is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), desktopTimeout)
	defer cancel()

	switch runtime.GOOS {
	case "darwin":
		if _, err := exec.LookPath("osascript"); err != nil {
			return fmt.Errorf("osascript not found")
		}
		script := fmt.Sprintf(
			`display notification "%s" with title "%s"`,
			escapeAppleScript(message),
			escapeAppleScript(title),
		)
		return runNoOutput(ctx, "osascript", "-e", script)
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return fmt.Errorf("notify-send not found")
		}
		return runNoOutput(ctx, "notify-send", title, message)
	case "windows":
		return errors.New("desktop notifications not implemented on windows")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func runNoOutput(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
