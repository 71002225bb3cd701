package protocol

// Hooks receives lifecycle notifications from a Sender or Receiver. It is
// satisfied structurally by *hooks.Manager; this package never imports
// internal/hooks so that protocol stays free of the dispatch machinery it
// does not need to know about.
type Hooks interface {
	Fire(event string, fields map[string]any)
}

func fire(h Hooks, event string, fields map[string]any) {
	if h == nil {
		return
	}
	h.Fire(event, fields)
}
