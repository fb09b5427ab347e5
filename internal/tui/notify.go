package tui

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"github.com/thruflo/clave/internal/cycle"
)

// Bell is the terminal bell character.
const Bell = "\a"

// Notifier tells the operator a session has finished. In the foreground it
// rings the terminal bell; otherwise it uses an OS notification.
type Notifier struct {
	out io.Writer

	// osNotify is replaced in tests.
	osNotify func(title, message string) error
}

// NewNotifier creates a Notifier that writes the bell to out.
func NewNotifier(out io.Writer) *Notifier {
	return &Notifier{out: out, osNotify: notifyOS}
}

// Bell rings the terminal bell.
func (n *Notifier) Bell() {
	fmt.Fprint(n.out, Bell)
}

// NotifyAttention rings the bell when isForeground, otherwise sends an OS
// notification.
func (n *Notifier) NotifyAttention(title, message string, isForeground bool) error {
	if isForeground {
		n.Bell()
		return nil
	}
	return n.osNotify(title, message)
}

// NotifyFinished announces the end of a session.
func (n *Notifier) NotifyFinished(sessionID string, reason cycle.FinishReason, isForeground bool) error {
	title, message := finishedMessage(sessionID, reason)
	return n.NotifyAttention(title, message, isForeground)
}

func finishedMessage(sessionID string, reason cycle.FinishReason) (title, message string) {
	switch reason {
	case cycle.ReasonCompleted:
		return "clave: Completed", fmt.Sprintf("Session %s completed", sessionID)
	case cycle.ReasonStopped:
		return "clave: Stopped", fmt.Sprintf("Session %s was stopped", sessionID)
	default:
		return "clave", fmt.Sprintf("Session %s finished", sessionID)
	}
}

// notifyOS uses osascript on macOS and does nothing elsewhere.
func notifyOS(title, message string) error {
	if runtime.GOOS != "darwin" {
		return nil
	}
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}
