package lifecycle

import "fmt"

// Step is one stage of a lifecycle operation. Operations run their steps in
// declaration order; a failure aborts every later step.
type Step int

const (
	StepLock Step = iota
	StepCheck
	StepStop
	StepClone
	StepRepoint
	StepStart
	StepInit
)

var stepNames = [...]string{
	StepLock:    "lock",
	StepCheck:   "check",
	StepStop:    "stop",
	StepClone:   "clone",
	StepRepoint: "repoint",
	StepStart:   "start",
	StepInit:    "init",
}

func (s Step) String() string {
	if s >= 0 && int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// StepError records which step of which operation failed.
type StepError struct {
	Op   string
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// EngineTouched reports whether the engine may have been stopped or started
// before the failure.
func (e *StepError) EngineTouched() bool {
	return e.Step >= StepStop && e.Step != StepInit
}
