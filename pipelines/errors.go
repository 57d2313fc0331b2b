package pipelines

import (
	"fmt"

	"github.com/fjlanasa/trainpos/config"
)

type Stage string

const (
	StagePoll    Stage = "poll"
	StageDecode  Stage = "decode"
	StageRoute   Stage = "route"
	StagePersist Stage = "persist"
	StageState   Stage = "state"
)

// CycleError is a failed cycle. The cursor was not advanced and nothing
// the cycle staged was kept.
type CycleError struct {
	Stage Stage
	// Route is set for persist failures.
	Route config.ID
	Err   error
}

func (e *CycleError) Error() string {
	if e.Route != "" {
		return fmt.Sprintf("%s stage (route %s): %v", e.Stage, e.Route, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
