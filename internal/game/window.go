package game

// Slot is one inventory slot of an open window. A zero Name means the slot is
// empty.
type Slot struct {
	Index       int      `json:"index"`
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Lore        []string `json:"lore,omitempty"`
	Count       int      `json:"count"`
}

// Window is a server-opened inventory window snapshot.
type Window struct {
	Title string `json:"title"`
	Slots []Slot `json:"slots"`
}

// NonEmptySlots returns the occupied slots of the window.
func (w Window) NonEmptySlots() []Slot {
	out := make([]Slot, 0, len(w.Slots))
	for _, s := range w.Slots {
		if s.Name != "" {
			out = append(out, s)
		}
	}
	return out
}
