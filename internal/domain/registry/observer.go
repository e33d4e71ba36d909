package registry

import "time"

// PresenceObserver is notified after an identity goes online or offline.
// Calls happen outside the Hub lock, on the goroutine that caused the change.
type PresenceObserver interface {
	PresenceChanged(identity string, online bool, at time.Time)
}

// Recorder receives registry metrics.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	FrameSent(kind string)
	FrameDropped(kind, reason string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()           {}
func (nopRecorder) ConnectionClosed()           {}
func (nopRecorder) FrameSent(string)            {}
func (nopRecorder) FrameDropped(string, string) {}
