package fleet

import "time"

type EventType string

const (
	EventPrinterRegistered EventType = "printer_registered"
	EventPrinterRemoved    EventType = "printer_removed"
	EventPrinterUpdated    EventType = "printer_updated"
	EventCommandSucceeded  EventType = "command_succeeded"
	EventCommandFailed     EventType = "command_failed"
)

type Event struct {
	Type      EventType    `json:"type"`
	PrinterID string       `json:"printer_id"`
	Verb      Verb         `json:"verb,omitempty"`
	Error     string       `json:"error,omitempty"`
	Printer   *DeviceState `json:"printer,omitempty"`
	At        time.Time    `json:"at"`
}

// Notifier receives fleet events. Notify is called from poll and command
// goroutines and must not block.
type Notifier interface {
	Notify(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
