package messenger

import "github.com/escalopa/txcoord/internal/core"

// Result is the outcome of one protocol step.
type Result uint8

const (
	Success Result = iota
	// Abort means a participant answered with failure. Compensation has
	// already been sent where the step owns it.
	Abort
	// Fatal means a transport error. Nothing was compensated.
	Fatal
	Cancelled
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Abort:
		return "abort"
	case Fatal:
		return "fatal"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Code maps r to the code reported to the client.
func (r Result) Code() core.ResultCode {
	switch r {
	case Success:
		return core.Success
	case Abort:
		return core.Failure
	case Cancelled:
		return core.AuditCancelled
	default:
		return core.Fatal
	}
}

// worse returns the more severe of a and b.
func worse(a, b Result) Result {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

var severity = map[Result]int{
	Success:   0,
	Abort:     1,
	Cancelled: 2,
	Fatal:     3,
}
