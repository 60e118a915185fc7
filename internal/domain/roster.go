package domain

type RoomHash string

// Attender is one entry of the room service's authoritative roster.
type Attender struct {
	PeerID      PeerID `json:"peer_id"`
	DisplayName string `json:"display_name,omitempty"`
}

type RoomStatus struct {
	RoomHash  RoomHash   `json:"room_hash"`
	Attenders []Attender `json:"attenders"`
}

type EnterRequest struct {
	RoomHash    RoomHash `json:"room_hash" binding:"required"`
	PeerID      PeerID   `json:"peer_id" binding:"required"`
	DisplayName string   `json:"display_name,omitempty"`
}

type ExitRequest struct {
	RoomHash RoomHash `json:"room_hash" binding:"required"`
	PeerID   PeerID   `json:"peer_id" binding:"required"`
}

func (s RoomStatus) PeerIDs() []PeerID {
	out := make([]PeerID, 0, len(s.Attenders))
	for _, a := range s.Attenders {
		out = append(out, a.PeerID)
	}
	return out
}
