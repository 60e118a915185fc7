// Package roster compares live peer sessions with the room service's attender list.
package roster

import (
	"slices"

	"github.com/dkeye/meshroom/internal/domain"
)

// Plan is the outcome of one reconciliation pass.
type Plan struct {
	// Orphans are live sessions the roster no longer reports; they must be torn down.
	Orphans []domain.PeerID
	// Keep are live sessions confirmed by the roster.
	Keep []domain.PeerID
	// Unconnected are attenders we hold no session for, self excluded.
	Unconnected []domain.Attender
}

// Reconcile never lists self as an orphan, even when the roster omits it.
func Reconcile(live []domain.PeerID, self domain.PeerID, attenders []domain.Attender) Plan {
	present := make(map[domain.PeerID]struct{}, len(attenders))
	for _, a := range attenders {
		present[a.PeerID] = struct{}{}
	}
	liveSet := make(map[domain.PeerID]struct{}, len(live))

	var p Plan
	for _, id := range live {
		liveSet[id] = struct{}{}
		if id == self {
			continue
		}
		if _, ok := present[id]; ok {
			p.Keep = append(p.Keep, id)
		} else {
			p.Orphans = append(p.Orphans, id)
		}
	}
	seen := make(map[domain.PeerID]struct{}, len(attenders))
	for _, a := range attenders {
		if a.PeerID == self || a.PeerID == "" {
			continue
		}
		if _, dup := seen[a.PeerID]; dup {
			continue
		}
		seen[a.PeerID] = struct{}{}
		if _, ok := liveSet[a.PeerID]; !ok {
			p.Unconnected = append(p.Unconnected, a)
		}
	}
	slices.Sort(p.Orphans)
	slices.Sort(p.Keep)
	return p
}

// Orphans is the teardown set alone.
func Orphans(live []domain.PeerID, self domain.PeerID, attenders []domain.Attender) []domain.PeerID {
	return Reconcile(live, self, attenders).Orphans
}
