package flow

// State is the working memory of a flow execution. Step handlers mutate it in
// place; the engine persists it after every step boundary.
type State map[string]any

// Clone returns a shallow copy of the state bag.
func (s State) Clone() State {
	c := make(State, len(s))
	for k, v := range s {
		c[k] = v
	}

	return c
}

// Merge copies all keys from other into s, overwriting existing keys.
func (s State) Merge(other State) {
	for k, v := range other {
		s[k] = v
	}
}
