package service

import (
	"strings"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
)

const DefaultPath = "/"

type Service struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	URL             string        `json:"url"`
	Path            string        `json:"path"`
	CheckInterval   int           `json:"check_interval"`
	Status          check.Status  `json:"status"`
	ConsecutiveDown int           `json:"consecutive_down"`
	Alerted         bool          `json:"alerted"`
	LastCheck       *check.Result `json:"last_check,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Definition is what the caller provides when registering a service.
type Definition struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	Path          string `json:"path"`
	CheckInterval int    `json:"check_interval"`
}

// Patch carries an explicit field edit; nil fields are left untouched.
type Patch struct {
	Name          *string
	URL           *string
	Path          *string
	CheckInterval *int
}

func (s Service) Target() string {
	return JoinURL(s.URL, s.Path)
}

func (s Service) Interval() time.Duration {
	return time.Duration(s.CheckInterval) * time.Second
}

func (s Service) Clone() Service {
	if s.LastCheck != nil {
		lc := s.LastCheck.Clone()
		s.LastCheck = &lc
	}
	return s
}

func JoinURL(base, path string) string {
	if path == "" {
		path = DefaultPath
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
