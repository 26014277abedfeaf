package booking

// Stage is one named step of the booking workflow.
type Stage int

const (
	StageStart Stage = iota
	StageLoggingIn
	StageConsentHandled
	StageCategorySelected
	StageDateSelected
	StageSlotFound
	StagePlayersAssigned
	StageBasketAdded
	StageTermsAccepted
	StageConfirmed
	StageFailed
)

var stageNames = [...]string{
	StageStart:            "start",
	StageLoggingIn:        "logging_in",
	StageConsentHandled:   "consent_handled",
	StageCategorySelected: "category_selected",
	StageDateSelected:     "date_selected",
	StageSlotFound:        "slot_found",
	StagePlayersAssigned:  "players_assigned",
	StageBasketAdded:      "basket_added",
	StageTermsAccepted:    "terms_accepted",
	StageConfirmed:        "confirmed",
	StageFailed:           "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageConfirmed || s == StageFailed
}

// Next returns the success edge of s. Terminal stages return themselves.
func (s Stage) Next() Stage {
	if s >= StageConfirmed {
		return s
	}
	return s + 1
}
