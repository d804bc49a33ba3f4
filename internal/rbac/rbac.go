package rbac

type Tier string
type Action string

const (
	TierViewer Tier = "viewer"
	TierAdmin  Tier = "admin"
)

const (
	ActionRead  Action = "read"
	ActionSend  Action = "send"
	ActionAdmin Action = "admin"
)

// Can reports whether tier may perform action. Device endpoints carry no
// token and never reach this check.
func Can(tier Tier, action Action) bool {
	switch tier {
	case TierAdmin:
		return true
	case TierViewer:
		return action == ActionRead || action == ActionSend
	default:
		return false
	}
}

func ForSession(isAdmin bool) Tier {
	if isAdmin {
		return TierAdmin
	}
	return TierViewer
}
