package connectivity

// Manual is a monitor driven by the host shell, which already knows the network state.
type Manual struct {
	notifier
}

func NewManual(online bool) *Manual {
	m := &Manual{}
	m.online = online
	return m
}

// Set records the state and notifies subscribers when it changed.
func (m *Manual) Set(online bool) {
	m.set(online)
}
