// Package players binds roster names to the opponent fields of the booking
// form, remembering every name the site refused for the rest of the run.
package players

// State is the assignment memory of one run. A name is never in both sets.
// Rejected names stay rejected for the whole run; used names are released
// when a new slot attempt starts.
type State struct {
	used     map[string]bool
	rejected map[string]bool
	order    []string
}

func NewState() *State {
	return &State{
		used:     make(map[string]bool),
		rejected: make(map[string]bool),
	}
}

func (s *State) IsUsed(name string) bool     { return s.used[name] }
func (s *State) IsRejected(name string) bool { return s.rejected[name] }

// Usable reports whether name may still be submitted.
func (s *State) Usable(name string) bool {
	return !s.used[name] && !s.rejected[name]
}

func (s *State) Use(name string) {
	if s.rejected[name] {
		return
	}
	s.used[name] = true
}

func (s *State) Reject(name string) {
	if s.rejected[name] {
		return
	}
	delete(s.used, name)
	s.rejected[name] = true
	s.order = append(s.order, name)
}

// Release forgets used names ahead of a new slot attempt.
func (s *State) Release() {
	clear(s.used)
}

// Rejected returns rejected names in rejection order.
func (s *State) Rejected() []string {
	return append([]string(nil), s.order...)
}

// UsableNames filters roster down to names that may still be submitted.
func (s *State) UsableNames(roster []string) []string {
	var out []string
	for _, n := range roster {
		if s.Usable(n) {
			out = append(out, n)
		}
	}
	return out
}
