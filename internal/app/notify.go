package app

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"fizzbot/internal/scheduler"
)

const (
	StateReady    = daemon.SdNotifyReady
	StateStopping = daemon.SdNotifyStopping
)

// Notifier reports service state to the supervisor process (systemd).
type Notifier interface {
	Notify(state string) error
}

// SystemdNotifier writes to $NOTIFY_SOCKET; outside systemd it does nothing.
type SystemdNotifier struct{}

func (SystemdNotifier) Notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

func statusLine(r scheduler.Result) string {
	outcome := "ok"
	if r.Err != nil {
		outcome = "failed"
	}
	return fmt.Sprintf("STATUS=last cycle %s at %s, next at %s",
		outcome, r.Started.UTC().Format(time.RFC3339), r.NextAt.UTC().Format(time.RFC3339))
}
