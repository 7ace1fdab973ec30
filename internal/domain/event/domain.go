package event

import (
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

type Kind string

const (
	KindUpdated    Kind = "updated"
	KindTransition Kind = "transition"
)

type Transition struct {
	ServiceID   string       `json:"service_id"`
	ServiceName string       `json:"service_name"`
	Old         check.Status `json:"old_status"`
	New         check.Status `json:"new_status"`
	At          time.Time    `json:"at"`
}

// Event is what subscribers receive. Service is set for both kinds,
// Transition only for KindTransition.
type Event struct {
	Kind       Kind
	Service    service.Service
	Transition *Transition
}
