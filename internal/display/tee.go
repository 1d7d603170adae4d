package display

import "screenrelay/internal/domain"

// Tee forwards every call to each sink in order.
type Tee []domain.DisplaySink

func (t Tee) Clear() {
	for _, s := range t {
		s.Clear()
	}
}

func (t Tee) Show(text string) {
	for _, s := range t {
		s.Show(text)
	}
}
