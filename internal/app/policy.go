package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropNotification
	DropObserver
)

// Subscriber is the view a back-pressure policy gets of a slow observer.
type Subscriber interface {
	ID() uint64
	Missed() int
}

// Policy decides what to do with an observer that cannot keep up with
// one-shot notifications.
type Policy interface {
	OnBackPressure(sub Subscriber) BackpressureAction
}

// SimplePolicy drops an observer on its first missed notification.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(Subscriber) BackpressureAction {
	return DropObserver
}

// TolerantPolicy drops notifications until an observer has missed Limit of
// them, then drops the observer.
type TolerantPolicy struct {
	Limit int
}

func (p TolerantPolicy) OnBackPressure(sub Subscriber) BackpressureAction {
	if sub.Missed() < p.Limit {
		return DropNotification
	}
	return DropObserver
}
