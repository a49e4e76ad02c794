package model

// AnonymousName is the display name of a participant that joined without user data.
const AnonymousName = "Anonymous"

// UserData is the profile a client sends when joining a board.
type UserData struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// Participant is a connected user on a given board.
//
// ConnectionID is ephemeral and changes on every reconnect. UserID is the
// durable identity and is empty for anonymous users. The two are never merged.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	Name         string `json:"name"`
	Color        string `json:"color,omitempty"`
	BoardID      string `json:"boardId"`
}

// NewParticipant builds the roster entry for a connection joining boardID.
func NewParticipant(connectionID, boardID string, ud *UserData) Participant {
	p := Participant{
		ConnectionID: connectionID,
		BoardID:      boardID,
		Name:         AnonymousName,
	}
	if ud == nil {
		return p
	}
	p.UserID = ud.ID
	p.Color = ud.Color
	if ud.Name != "" {
		p.Name = ud.Name
	}
	return p
}
