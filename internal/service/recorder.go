package service

// Recorder receives service level metrics.
type Recorder interface {
	MessageSent()
	NotificationCreated(category string)
}

type nopRecorder struct{}

func (nopRecorder) MessageSent()               {}
func (nopRecorder) NotificationCreated(string) {}
