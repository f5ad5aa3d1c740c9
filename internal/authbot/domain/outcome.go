package domain

// OutcomeKind is the result of one verification attempt.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota + 1
	OutcomeRejected
	OutcomeBanned
	OutcomeExpired // no live code left to verify against
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeBanned:
		return "banned"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind      OutcomeKind
	Remaining int // attempts left, only set for OutcomeRejected
}

func Accepted() Outcome              { return Outcome{Kind: OutcomeAccepted} }
func Rejected(remaining int) Outcome { return Outcome{Kind: OutcomeRejected, Remaining: remaining} }
func Banned() Outcome                { return Outcome{Kind: OutcomeBanned} }
func Expired() Outcome               { return Outcome{Kind: OutcomeExpired} }
