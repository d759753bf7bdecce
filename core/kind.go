package core

import "fmt"

// Kind classifies a message on the bus.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
	KindEscalation   Kind = "escalation"
)

var knownKinds = map[Kind]struct{}{
	KindRequest:      {},
	KindResponse:     {},
	KindNotification: {},
	KindEscalation:   {},
}

// ParseKind validates an untrusted message kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := knownKinds[k]; !ok {
		return "", fmt.Errorf("unknown message kind: %q", s)
	}

	return k, nil
}
