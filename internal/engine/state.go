package engine

import (
	"fmt"
	"strings"
)

// State is where a source is in its sync cycle.
//
//	Idle -> Fetching -> Evolving -> Upserting -> Resolving -> Idle
//	any stage -> Failed -> Idle
type State int

const (
	Idle State = iota
	Fetching
	Evolving
	Upserting
	Resolving
	Failed
)

var stateNames = [...]string{"idle", "fetching", "evolving", "upserting", "resolving", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Active reports whether s is inside the Fetching..Resolving span.
func (s State) Active() bool { return s >= Fetching && s <= Resolving }

// Mode selects which rows a sync fetches.
type Mode int

const (
	// Full fetches every row.
	Full Mode = iota
	// Incremental fetches rows submitted after the source's watermark, and
	// falls back to Full when there is none.
	Incremental
)

func (m Mode) String() string {
	if m == Incremental {
		return "incremental"
	}
	return "full"
}

// ParseMode parses "full" or "incremental"; empty means Full.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return Full, nil
	case "incremental":
		return Incremental, nil
	}
	return Full, fmt.Errorf("unknown sync mode %q", s)
}
