package engine

import (
	"fmt"
	"strings"
)

// Source identifies where a candidate code came from.
type Source int

const (
	SourceUnknown Source = iota
	SourceStorage
	SourceNetworkCache
	SourceDOM
)

// DefaultSourceOrder is the priority used when nothing has been learned.
var DefaultSourceOrder = []Source{SourceStorage, SourceNetworkCache, SourceDOM}

func (s Source) String() string {
	switch s {
	case SourceStorage:
		return "storage"
	case SourceNetworkCache:
		return "network"
	case SourceDOM:
		return "dom"
	default:
		return "unknown"
	}
}

// ParseSource accepts the canonical names and the spellings older learned
// files used.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "storage", "localstorage", "sessionstorage":
		return SourceStorage, nil
	case "network", "networkcache", "network_cache":
		return SourceNetworkCache, nil
	case "dom":
		return SourceDOM, nil
	}
	return SourceUnknown, fmt.Errorf("unknown source %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It reads back what
// MarshalText writes for failed stages as SourceUnknown.
func (s *Source) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "unknown":
		*s = SourceUnknown
		return nil
	}
	parsed, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Candidate is a proposed code and its provenance. It lives for one
// resolution attempt only.
type Candidate struct {
	Value  string
	Source Source
	Valid  bool
}

// sourceOrder puts the preferred source first and keeps the default priority
// for the rest.
func sourceOrder(preferred Source, ok bool) []Source {
	if !ok || preferred == SourceUnknown {
		return append([]Source(nil), DefaultSourceOrder...)
	}
	order := []Source{preferred}
	for _, s := range DefaultSourceOrder {
		if s != preferred {
			order = append(order, s)
		}
	}
	return order
}
