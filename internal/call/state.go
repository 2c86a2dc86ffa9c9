// Package call coordinates one consultation call end to end: media
// acquisition, room lifecycle, signaling and peer negotiation.
package call

type State string

const (
	StateIdle           State = "idle"
	StateAcquiringMedia State = "acquiring-media"
	StateJoiningRoom    State = "joining-room"
	StateOffering       State = "offering"
	StateAnswering      State = "answering"
	StateConnected      State = "connected"
	StateEnding         State = "ending"
	StateEnded          State = "ended"
	StateFailed         State = "failed"
)

// Active reports whether a call attempt is in progress. A new call may
// start only from a non-active state.
func (s State) Active() bool {
	switch s {
	case StateIdle, StateEnded, StateFailed:
		return false
	default:
		return true
	}
}

func (s State) Negotiating() bool {
	return s == StateOffering || s == StateAnswering
}

func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}
