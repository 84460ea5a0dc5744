package progression

// Status describes how far a repository has come in its flow.
type Status string

const (
	// StatusPending is set when no edge of the repository is being worked
	// on and the flow has not finished.
	StatusPending Status = "pending"
	// StatusInProgress is set while an edge of the repository is driven
	// towards a merge.
	StatusInProgress Status = "in_progress"
	// StatusBlockedWaitingDependency is set on service repositories while
	// library repositories have not completed their flows.
	StatusBlockedWaitingDependency Status = "blocked_waiting_dependency"
	// StatusCompleted is set when all planned edges of the repository
	// were merged or skipped.
	StatusCompleted Status = "completed"
	// StatusFailed is set when an edge could not be merged.
	StatusFailed Status = "failed"
)

// Mode selects which repositories a run processes.
type Mode string

const (
	// ModeFull processes library repositories first and service
	// repositories afterwards.
	ModeFull Mode = "full"
	// ModeLibOnly processes only library repositories.
	ModeLibOnly Mode = "lib-only"
	// ModeServiceOnly processes only service repositories, without
	// waiting on libraries.
	ModeServiceOnly Mode = "service-only"
)

// ParseMode converts a mode argument to a Mode.
func ParseMode(in string) (Mode, error) {
	switch Mode(in) {
	case ModeFull:
		return ModeFull, nil
	case ModeLibOnly:
		return ModeLibOnly, nil
	case ModeServiceOnly:
		return ModeServiceOnly, nil
	default:
		return "", &ErrInvalidMode{Mode: in}
	}
}

// ErrInvalidMode is returned when a mode argument is not recognized.
type ErrInvalidMode struct {
	Mode string
}

func (e *ErrInvalidMode) Error() string {
	return "invalid mode: '" + e.Mode + "', supported modes: full, lib-only, service-only"
}
