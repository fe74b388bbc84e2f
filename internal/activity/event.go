package activity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Type tags where an activity event came from.
type Type string

const (
	TypeBrowserTab        Type = "browser_tab"
	TypeBrowserNavigation Type = "browser_navigation"
	TypeCode              Type = "code"
	TypeEmail             Type = "email"
	TypeChat              Type = "chat"
	TypeSystemApp         Type = "system_app"
	TypeFile              Type = "file"
	TypeGitHub            Type = "github"
	TypeDocument          Type = "document"
	TypeCalendar          Type = "calendar"
)

// Known lists every type a collector may emit.
var Known = []Type{
	TypeBrowserTab, TypeBrowserNavigation, TypeCode, TypeEmail, TypeChat,
	TypeSystemApp, TypeFile, TypeGitHub, TypeDocument, TypeCalendar,
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	for _, k := range Known {
		if k == t {
			return true
		}
	}
	return false
}

// Metadata is the free-form part of an event filled in by collectors.
type Metadata struct {
	URL         string            `json:"url,omitempty"`
	Title       string            `json:"title,omitempty"`
	Action      string            `json:"action,omitempty"`
	AppName     string            `json:"app_name,omitempty"`
	Repository  string            `json:"repository,omitempty"`
	ProjectName string            `json:"project_name,omitempty"`
	FilePath    string            `json:"file_path,omitempty"`
	Language    string            `json:"language,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Enrichment carries optional annotations added upstream of the stream.
type Enrichment struct {
	Topics   []string `json:"topics,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Event is one normalized record of user activity. Events are produced by
// external collectors and treated as immutable once submitted.
type Event struct {
	ID         string      `json:"id"`
	Type       Type        `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	SessionID  string      `json:"session_id,omitempty"`
	Source     string      `json:"source,omitempty"`
	Metadata   Metadata    `json:"metadata"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// Domain returns the host of the event URL without a leading "www.".
func (e Event) Domain() string {
	if e.Metadata.URL == "" {
		return ""
	}
	u, err := url.Parse(e.Metadata.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Topics returns the enrichment topics, or nil.
func (e Event) Topics() []string {
	if e.Enrichment == nil {
		return nil
	}
	return e.Enrichment.Topics
}

// Project returns the repository or project name the event belongs to.
func (e Event) Project() string {
	if e.Metadata.Repository != "" {
		return e.Metadata.Repository
	}
	return e.Metadata.ProjectName
}

// TypeSet is a lookup set of event types.
type TypeSet map[Type]struct{}

// NewTypeSet builds a set from the given types.
func NewTypeSet(types ...Type) TypeSet {
	s := make(TypeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether t is in the set.
func (s TypeSet) Has(t Type) bool {
	_, ok := s[t]
	return ok
}

// Count returns how many events have a type in the set.
func (s TypeSet) Count(events []Event) int {
	n := 0
	for _, e := range events {
		if s.Has(e.Type) {
			n++
		}
	}
	return n
}

// Since returns the events at or after cutoff, preserving order.
func Since(events []Event, cutoff time.Time) []Event {
	var out []Event
	for _, e := range events {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Latest returns the most recent timestamp among events.
func Latest(events []Event) time.Time {
	var t time.Time
	for _, e := range events {
		if e.Timestamp.After(t) {
			t = e.Timestamp
		}
	}
	return t
}

// ErrUnknownType is returned by Validate for events with an unrecognized type.
var ErrUnknownType = errors.New("unknown activity type")

// Validate checks the fields the stream depends on.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}
