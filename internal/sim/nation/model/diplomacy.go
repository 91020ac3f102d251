package model

import (
	"errors"
	"strings"
)

var ErrInvalidEnum = errors.New("invalid enum value")

// Diplomacy is the directed stance one nation holds toward another.
// Neutral is never stored: an absent entry reads as Neutral.
type Diplomacy uint8

const (
	Allied Diplomacy = iota
	Neutral
	AtWar
)

func (d Diplomacy) String() string {
	switch d {
	case Allied:
		return "ALLIED"
	case Neutral:
		return "NEUTRAL"
	case AtWar:
		return "AT_WAR"
	default:
		return "UNKNOWN"
	}
}

func (d Diplomacy) Valid() bool { return d <= AtWar }

func ParseDiplomacy(s string) (Diplomacy, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALLIED", "ALLY":
		return Allied, true
	case "NEUTRAL":
		return Neutral, true
	case "AT_WAR", "WAR":
		return AtWar, true
	default:
		return 0, false
	}
}

func (d Diplomacy) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Diplomacy) UnmarshalText(b []byte) error {
	v, ok := ParseDiplomacy(string(b))
	if !ok {
		return &ParseError{Kind: "diplomacy", Value: string(b)}
	}
	*d = v
	return nil
}

// ParseError reports an enum value that does not name a known constant.
type ParseError struct {
	Kind  string
	Value string
}

func (e *ParseError) Error() string { return "unknown " + e.Kind + ": " + e.Value }
