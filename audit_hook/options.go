package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used to report recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithEnabledActions restricts auditing to the listed actions. Without it
// every action is audited.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) { e.enabled = setOf(actions) }
}

// WithDisabledActions audits everything except the listed actions. Applied
// after WithEnabledActions it narrows that set further.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = setOf(Actions)
		}
		for _, a := range actions {
			delete(e.enabled, a)
		}
	}
}

// WithQueryText adds the extracted question and the answer to query event
// metadata. History already stores both, so it is off by default.
func WithQueryText(include bool) Option {
	return func(e *Extension) { e.includeText = include }
}

func setOf(actions []string) map[string]bool {
	m := make(map[string]bool, len(actions))
	for _, a := range actions {
		m[a] = true
	}
	return m
}
