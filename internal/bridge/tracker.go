package bridge

// TokenState is either NotYetObserved or Seen(token).
type TokenState struct {
	token    Token
	observed bool
}

// NotYetObserved is the token state before any command has been relayed.
func NotYetObserved() TokenState { return TokenState{} }

// Seen returns the state after relaying a command carrying tok.
func Seen(tok Token) TokenState { return TokenState{token: tok, observed: true} }

// Observed reports whether a token has been seen.
func (s TokenState) Observed() bool { return s.observed }

// Token returns the last seen token and whether one exists.
func (s TokenState) Token() (Token, bool) { return s.token, s.observed }

// Changed reports whether tok counts as a new command. Every token is new
// while nothing has been observed.
func (s TokenState) Changed(tok Token) bool {
	return !s.observed || s.token != tok
}

// Tracker holds the bridge-local, in-memory relay state. It is only touched
// by the poll loop.
type Tracker struct {
	processed    map[string]struct{}
	lastStop     TokenState
	lastRecovery TokenState
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		processed:    make(map[string]struct{}),
		lastStop:     NotYetObserved(),
		lastRecovery: NotYetObserved(),
	}
}

// IsProcessed reports whether the order was already relayed.
func (t *Tracker) IsProcessed(orderID string) bool {
	_, ok := t.processed[orderID]
	return ok
}

// MarkOrder records a relayed order. The set only grows.
func (t *Tracker) MarkOrder(orderID string) {
	t.processed[orderID] = struct{}{}
}

// MarkStop records the token of a relayed stop command.
func (t *Tracker) MarkStop(tok Token) { t.lastStop = Seen(tok) }

// MarkRecovery records the token of a relayed recovery command.
func (t *Tracker) MarkRecovery(tok Token) { t.lastRecovery = Seen(tok) }

// LastStop returns the stop command token state.
func (t *Tracker) LastStop() TokenState { return t.lastStop }

// LastRecovery returns the recovery command token state.
func (t *Tracker) LastRecovery() TokenState { return t.lastRecovery }

// ProcessedCount returns the number of relayed orders.
func (t *Tracker) ProcessedCount() int { return len(t.processed) }
