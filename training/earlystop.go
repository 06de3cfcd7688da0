package training

// StopDecision classifies the outcome of one evaluation against the
// previous recorded test loss.
type StopDecision int

const (
	// NoChange: first evaluation, or an exact tie. Neither the counter nor
	// a checkpoint is touched.
	NoChange StopDecision = iota
	// Improved: test loss strictly decreased. Counter resets; a checkpoint
	// is due.
	Improved
	// Worsened: test loss strictly increased. Counter incremented.
	Worsened
)

func (d StopDecision) String() string {
	switch d {
	case NoChange:
		return "NoChange"
	case Improved:
		return "Improved"
	case Worsened:
		return "Worsened"
	default:
		return "Unknown"
	}
}

// EarlyStopping tracks consecutive non-improving evaluations. It is a plain
// value threaded through the epoch driver so its transitions can be tested
// in isolation.
type EarlyStopping struct {
	Count   int  // consecutive strict increases since the last improvement
	Limit   int  // 0 disables early stopping
	Stopped bool // set exactly when Count reaches Limit
}

// Enabled reports whether a patience limit is configured.
func (es *EarlyStopping) Enabled() bool {
	return es.Limit > 0
}

// Observe applies one evaluation result to the patience state and reports
// the decision.
//
// The very first evaluation (epoch 0) never changes the state: the previous
// loss is a sentinel zero, not a real measurement. A strict decrease resets
// the counter; a strict increase bumps it, setting Stopped when the limit
// is reached; an exact tie does nothing at all.
func (es *EarlyStopping) Observe(previous, current float64, epoch int) StopDecision {
	switch {
	case epoch == 0:
		return NoChange
	case previous < current:
		es.Count++
		if es.Count == es.Limit {
			es.Stopped = true
		}
		return Worsened
	case previous > current:
		es.Count = 0
		return Improved
	default:
		return NoChange
	}
}
