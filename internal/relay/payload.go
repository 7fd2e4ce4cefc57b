package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// DefaultMaxPayloadBytes bounds the serialized size of a single offer, answer
// or candidate.
const DefaultMaxPayloadBytes = 100_000

// Kind identifies a signaling message.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

// ParseKind maps a wire message type to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindOffer, KindAnswer, KindICECandidate:
		return Kind(s), true
	default:
		return "", false
	}
}

// Field is the JSON key holding the payload for this kind, both inbound and
// when forwarded.
func (k Kind) Field() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindICECandidate:
		return "candidate"
	default:
		return ""
	}
}

// Request is a decoded client signaling message.
type Request struct {
	Target  string
	Payload json.RawMessage
}

// ParseRequest decodes `{"target": "...", "<field>": <payload>}`.
func ParseRequest(kind Kind, data []byte) (Request, error) {
	field := kind.Field()
	if field == "" {
		return Request{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidPayload, kind)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Request{}, fmt.Errorf("%w: expected an object", ErrInvalidPayload)
	}

	var target string
	if raw, ok := fields["target"]; !ok || json.Unmarshal(raw, &target) != nil || target == "" {
		return Request{}, fmt.Errorf("%w: missing target", ErrInvalidPayload)
	}

	payload, ok := fields[field]
	if !ok || isNull(payload) {
		return Request{}, fmt.Errorf("%w: missing %s", ErrInvalidPayload, field)
	}
	return Request{Target: target, Payload: payload}, nil
}

// ValidatePayload checks the payload size and that it has the shape of the
// WebRTC object for kind. Size is checked first so oversized payloads are never
// decoded.
func ValidatePayload(kind Kind, payload json.RawMessage, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPayloadBytes
	}
	if len(payload) > maxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), maxBytes)
	}

	switch kind {
	case KindOffer, KindAnswer:
		var desc sessionDescription
		if err := decodeObject(payload, &desc); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
		}
		pd, err := desc.toPion()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, kind, err)
		}
		if !sdpTypeMatches(kind, pd.Type) {
			return fmt.Errorf("%w: %s has sdp type %q", ErrInvalidPayload, kind, desc.Type)
		}
		if pd.SDP == "" {
			return fmt.Errorf("%w: %s missing sdp", ErrInvalidPayload, kind)
		}
	case KindICECandidate:
		var cand candidate
		if err := decodeObject(payload, &cand); err != nil {
			return fmt.Errorf("%w: candidate: %v", ErrInvalidPayload, err)
		}
		if cand.Candidate == nil {
			return fmt.Errorf("%w: candidate missing candidate field", ErrInvalidPayload)
		}
		if err := validateCandidate(cand.toPion()); err != nil {
			return fmt.Errorf("%w: candidate: %v", ErrInvalidPayload, err)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidPayload, kind)
	}
	return nil
}

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s sessionDescription) toPion() (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(s.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

func sdpTypeMatches(kind Kind, t webrtc.SDPType) bool {
	switch kind {
	case KindOffer:
		return t == webrtc.SDPTypeOffer
	case KindAnswer:
		return t == webrtc.SDPTypeAnswer
	default:
		return false
	}
}

// candidate mirrors RTCIceCandidateInit. Candidate is a pointer so a missing
// field can be told apart from the empty end-of-candidates marker.
type candidate struct {
	Candidate        *string `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (c candidate) toPion() webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if c.Candidate != nil {
		init.Candidate = *c.Candidate
	}
	return init
}

// validateCandidate applies the checks a browser makes in addIceCandidate. An
// empty candidate is the end-of-candidates marker and needs no media section.
func validateCandidate(init webrtc.ICECandidateInit) error {
	if init.Candidate == "" {
		return nil
	}
	if init.SDPMid == nil && init.SDPMLineIndex == nil {
		return fmt.Errorf("sdpMid and sdpMLineIndex are both missing")
	}
	if !strings.HasPrefix(strings.TrimPrefix(init.Candidate, "a="), "candidate:") {
		return fmt.Errorf("not an ICE candidate attribute")
	}
	return nil
}

func decodeObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("expected an object")
	}
	return json.Unmarshal(trimmed, v)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
