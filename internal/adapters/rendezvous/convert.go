package rendezvous

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshroom/internal/domain"
)

func toWireSDP(sd *webrtc.SessionDescription) *domain.SessionDescription {
	if sd == nil {
		return nil
	}
	return &domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func fromWireSDP(sd *domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(sd.Type), SDP: sd.SDP}
}

func toWireCandidate(ci webrtc.ICECandidateInit) *domain.ICECandidate {
	return &domain.ICECandidate{
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

func fromWireCandidate(c *domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}
