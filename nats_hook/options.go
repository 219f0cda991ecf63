package natshook

// Option configures an Extension.
type Option func(*Extension)

// WithEvents restricts the extension to the listed event names. By
// default every event is published. Unknown names are ignored.
func WithEvents(events ...string) Option {
	return func(h *Extension) {
		h.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}

// WithSubjectPrefix sets the subject prefix. The default is "genqueue".
func WithSubjectPrefix(prefix string) Option {
	return func(h *Extension) {
		if prefix != "" {
			h.prefix = prefix
		}
	}
}
