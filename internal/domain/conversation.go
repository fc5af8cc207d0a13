package domain

// Message is a single persisted scoping-session message.
type Message struct {
	PK        string
	SK        string
	SessionID string
	Role      string
	Content   string
	TTL       int64
}

// SessionBrief is the persisted brief record for a scoping session.
type SessionBrief struct {
	PK        string
	SK        string
	SessionID string
	BriefJSON string
	Status    string
	UpdatedAt string
	TTL       int64
}
