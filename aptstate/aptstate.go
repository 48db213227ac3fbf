// Package aptstate holds the types shared by the apt state packages: the
// result handed back to the caller and the two error kinds a run can end with.
package aptstate

import (
	"errors"
	"time"
)

// AptEnv is the environment every apt invocation runs with. LC_ALL=C keeps
// the output parseable.
var AptEnv = []string{
	"DEBIAN_FRONTEND=noninteractive",
	"DEBIAN_PRIORITY=critical",
	"LC_ALL=C",
}

// Result is what one run reports back to the orchestration engine.
type Result struct {
	Changed         bool       `json:"changed"`
	Failed          bool       `json:"failed,omitempty"`
	Msg             string     `json:"msg,omitempty"`
	Stdout          string     `json:"stdout,omitempty"`
	Stderr          string     `json:"stderr,omitempty"`
	CacheUpdated    bool       `json:"cache_updated"`
	CacheUpdateTime *time.Time `json:"cache_update_time,omitempty"`
}

// Fail marks the result as failed with the error's message. Stderr captured
// by an ExecutionError is copied over.
func (r Result) Fail(err error) Result {
	r.Failed = true
	r.Changed = false
	r.Msg = err.Error()

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		r.Stderr = execErr.Stderr
	}
	return r
}
