// Package consistency holds the small set of fatal-error helpers used for
// the situations this indexer treats as always-panic, regardless of
// strict_mode: consistency violations against the upstream, would-be
// negative holder balances, and module-registry ordering violations. Every
// other error path in this module returns a typed error instead.
package consistency

import (
	"fmt"

	"github.com/subfrost/alkanes-index/internal/logs"
)

var log = logs.Logger(logs.Tags.ESNT)

// Violation is returned (not panicked) by callers that want to let the
// scheduler decide whether to log-and-continue or escalate; Panicf is used
// for the cases that must always be fatal.
type Violation struct {
	Message string
}

func (v *Violation) Error() string { return v.Message }

// NewViolation builds a Violation error without panicking.
func NewViolation(format string, args ...interface{}) *Violation {
	return &Violation{Message: fmt.Sprintf(format, args...)}
}

// Panicf logs the message at the ESNT subsystem's critical level and then
// panics. It is the only place in the indexer that turns a logic/data
// problem into process death; the supervisor restarting the process and
// resuming from the persisted index_height is the recovery strategy.
func Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Criticalf("fatal consistency violation: %s", msg)
	panic(msg)
}
