package propagation

import (
	"time"

	"github.com/dzeleniak/tleme/internal/tle"
	"github.com/dzeleniak/tleme/internal/transform"
)

// DefaultMaxEpochAge is how far from its epoch a record may be propagated.
// SGP4 error grows by kilometers per day; past a year the result is noise.
const DefaultMaxEpochAge = 365 * 24 * time.Hour

// Config holds propagation configuration loaded from environment variables.
type Config struct {
	Workers     int           // Worker pool size (default: runtime.NumCPU())
	MaxEpochAge time.Duration // Reject records further than this from their epoch; 0 disables
}

// Outcome is the result of propagating one record. Exactly one of State
// and Err is meaningful.
type Outcome struct {
	Record tle.Record
	State  transform.StateVector
	Epoch  time.Time // element epoch, zero when the record failed to decode
	Err    error
}
