package pending

import "log/slog"

// Launcher brings the host application to the foreground. It returns false
// when the host cannot be resolved on this device.
type Launcher interface {
	LaunchHostApplication() bool
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func() bool

// LaunchHostApplication calls f.
func (f LauncherFunc) LaunchHostApplication() bool {
	return f()
}

// Dispatcher runs the push-action flow on top of a Slot.
type Dispatcher struct {
	slot     *Slot
	probe    ReadinessProbe
	launcher Launcher
}

// NewDispatcher creates a Dispatcher. launcher may be nil when the host has no
// separate launch step.
func NewDispatcher(slot *Slot, probe ReadinessProbe, launcher Launcher) *Dispatcher {
	return &Dispatcher{slot: slot, probe: probe, launcher: launcher}
}

// Handle accepts a push action and returns whether it was handled.
//
// A resolvable action is offered to the slot and drained immediately if the
// host is ready. An action with nothing to execute bypasses the slot. In either
// case, when the action asks to open the host application and was not handled,
// the launcher is invoked.
func (d *Dispatcher) Handle(a PendingAction) bool {
	handled := false
	if a.Action != nil {
		d.slot.Offer(a)
		handled = d.slot.DrainIfReady(d.probe)
	} else {
		slog.Debug("Dispatcher.Handle: no resolvable action, bypassing slot", "messageID", a.Event.MessageID)
	}

	if a.OpenApp && !handled {
		d.launch()
	}
	return handled
}

// ProcessPending is the readiness poller's entry point. It delivers the waiting
// action if the host is ready.
func (d *Dispatcher) ProcessPending() bool {
	return d.slot.DrainIfReady(d.probe)
}

func (d *Dispatcher) launch() {
	if d.launcher == nil {
		slog.Debug("Dispatcher.launch: no launcher configured")
		return
	}
	if !d.launcher.LaunchHostApplication() {
		slog.Warn("Dispatcher.launch: host application could not be resolved")
	}
}
