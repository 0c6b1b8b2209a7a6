package auth

// PageMode is the kind of page a session was opened for
type PageMode string

const (
	ModeBoard      PageMode = "board"
	ModeTournament PageMode = "tournament"
	ModeAdmin      PageMode = "admin"
)

// Capabilities are resolved once when a session starts
type Capabilities struct {
	EditBoard      bool `json:"editBoard"`
	DeleteEntries  bool `json:"deleteEntries"`
	JoinTournament bool `json:"joinTournament"`
	ManageUsers    bool `json:"manageUsers"`
}

// Resolve maps a role on a page to its capabilities
func Resolve(role Role, mode PageMode) Capabilities {
	admin := role == RoleAdmin
	switch mode {
	case ModeBoard:
		return Capabilities{EditBoard: true, DeleteEntries: admin, ManageUsers: admin}
	case ModeTournament:
		return Capabilities{EditBoard: admin, DeleteEntries: admin, JoinTournament: true, ManageUsers: admin}
	case ModeAdmin:
		return Capabilities{ManageUsers: admin}
	default:
		return Capabilities{}
	}
}
