package scheduler

import (
	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/event"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

// outcome is what applying one result asks the caller to emit.
type outcome struct {
	transition *event.Transition
	alert      alert.Kind
}

// applyResult advances the status machine of s by one check result.
//
//	PENDING|UP -> DOWN  transition, counter starts; alert once the streak reaches threshold
//	DOWN -> DOWN        counter grows; alert if the streak just reached threshold
//	DOWN -> UP          transition; UP alert only if the DOWN streak was alerted
//	PENDING|UP -> UP    nothing
func applyResult(s *service.Service, r check.Result, threshold int) outcome {
	if threshold < 1 {
		threshold = 1
	}
	old := s.Status
	last := r.Clone()
	s.LastCheck = &last

	var out outcome
	if r.Up() {
		if old == check.StatusDown {
			out.transition = transition(s, old, check.StatusUp, r)
			if s.Alerted {
				out.alert = alert.KindUp
			}
		}
		s.Status = check.StatusUp
		s.ConsecutiveDown = 0
		s.Alerted = false
		return out
	}

	s.ConsecutiveDown++
	if old != check.StatusDown {
		out.transition = transition(s, old, check.StatusDown, r)
	}
	s.Status = check.StatusDown
	if !s.Alerted && s.ConsecutiveDown >= threshold {
		s.Alerted = true
		out.alert = alert.KindDown
	}
	return out
}

func transition(s *service.Service, from, to check.Status, r check.Result) *event.Transition {
	return &event.Transition{
		ServiceID:   s.ID,
		ServiceName: s.Name,
		Old:         from,
		New:         to,
		At:          r.Timestamp,
	}
}
