// Package domain contains entities and wire types without transport logic.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxPeerIDLen      = 64
	MaxDisplayNameLen = 36
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrPeerIDInvalid      = errors.New("peer id invalid")
)

type PeerID string

// NewPeerID issues a fresh identity in the same shape the rendezvous server hands out.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

func (p PeerID) Validate() error {
	if p == "" || len(p) > MaxPeerIDLen {
		return ErrPeerIDInvalid
	}
	if strings.ContainsAny(string(p), " \t\r\n/?#") {
		return ErrPeerIDInvalid
	}
	return nil
}

// LocalIdentity is who we are to the rest of the room.
type LocalIdentity struct {
	PeerID      PeerID `json:"peer_id" yaml:"peer_id"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

func NewLocalIdentity(displayName string) (*LocalIdentity, error) {
	id := &LocalIdentity{}
	if err := id.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	return id, nil
}

func (l *LocalIdentity) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if err := ValidateDisplayName(name); err != nil {
		return err
	}
	l.DisplayName = name
	return nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len([]rune(name)) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}

// ClampDisplayName is used for names received from remote peers, which are stored
// even when they break local rules.
func ClampDisplayName(name string) string {
	r := []rune(strings.TrimSpace(name))
	if len(r) > MaxDisplayNameLen {
		r = r[:MaxDisplayNameLen]
	}
	return string(r)
}
