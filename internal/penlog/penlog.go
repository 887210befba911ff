// Package penlog is the kernel's event log: one line per state transition, in
// the form "[Q] EVENT pid prio name". It wraps logrus the way a production
// daemon would, rather than hand-rolling formatting with fmt.Fprintf, so the
// same log stream can be redirected, leveled, or reformatted as JSON for a
// collector without touching call sites.
package penlog

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Event is one of the transition kinds the scheduler and kernel emit.
type Event string

const (
	EventCreate    Event = "CREATE"
	EventSchedule  Event = "SCHEDULE"
	EventExited    Event = "EXITED"
	EventSignaled  Event = "SIGNALED"
	EventStopped   Event = "STOPPED"
	EventContinued Event = "CONTINUED"
	EventZombie    Event = "ZOMBIE"
	EventOrphan    Event = "ORPHAN"
	EventWaited    Event = "WAITED"
	EventNice      Event = "NICE"
	EventBlocked   Event = "BLOCKED"
	EventUnblocked Event = "UNBLOCKED"
)

// Logger emits the fixed-format transition log. The zero value is not usable;
// construct with New.
type Logger struct {
	entry *logrus.Logger
}

// New returns a Logger writing to out in the "[Q] EVENT pid prio name" format.
func New(out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&transitionFormatter{})
	return &Logger{entry: l}
}

// Emit writes one transition line.
func (l *Logger) Emit(quantum int, event Event, pid, priority int, name string) {
	l.entry.WithFields(logrus.Fields{
		"quantum":  quantum,
		"event":    event,
		"pid":      pid,
		"priority": priority,
		"name":     name,
	}).Info("")
}

// Raw exposes the underlying logrus.Logger for ambient (non-transition)
// diagnostics, e.g. the host banner and umount warnings in cmd/pennos.
func (l *Logger) Raw() *logrus.Logger { return l.entry }

type transitionFormatter struct{}

func (transitionFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%v] %v\t\t\t%v\t%v\t%v\n",
		e.Data["quantum"], e.Data["event"], e.Data["pid"], e.Data["priority"], e.Data["name"])), nil
}
