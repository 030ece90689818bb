package model

import (
	"fmt"
	"time"
)

// Domain names one independently updated slice of dashboard state.
type Domain string

const (
	DomainMarket      Domain = "market"
	DomainFearGreed   Domain = "fear_greed"
	DomainPortfolio   Domain = "portfolio"
	DomainTrades      Domain = "trades"
	DomainIndicators  Domain = "indicators"
	DomainStatistics  Domain = "statistics"
	DomainReflections Domain = "reflections"
	DomainChart       Domain = "chart"
)

// Domains is the fixed set of domains, in display order.
var Domains = []Domain{
	DomainMarket,
	DomainFearGreed,
	DomainPortfolio,
	DomainTrades,
	DomainIndicators,
	DomainStatistics,
	DomainReflections,
	DomainChart,
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// ParseDomain converts a string to a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown domain %q", s)
	}
	return d, nil
}

// Source identifies which path produced a committed update.
type Source int

const (
	SourcePoll Source = iota
	SourcePush
)

func (s Source) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourcePush:
		return "push"
	default:
		return "unknown"
	}
}

// MarshalText renders the source as its name in JSON and logs.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a source name.
func (s *Source) UnmarshalText(b []byte) error {
	switch string(b) {
	case "poll":
		*s = SourcePoll
	case "push":
		*s = SourcePush
	default:
		return fmt.Errorf("unknown source %q", b)
	}
	return nil
}

// UpdateKind tells the store how to combine a record with the stored one.
type UpdateKind int

const (
	// KindSnapshot replaces the stored record.
	KindSnapshot UpdateKind = iota
	// KindDelta is merged into the stored record (trade events).
	KindDelta
)

// Record is a normalized domain value produced by an adapter.
type Record interface {
	Domain() Domain
	// OriginTime is when the value was produced upstream. Records whose
	// payload carries no timestamp use the time the request was issued.
	OriginTime() time.Time
	Kind() UpdateKind
}

// Completer is implemented by records whose push form omits fields the
// polled form carries. Complete returns a copy with absent fields taken
// from prev.
type Completer interface {
	Complete(prev Record) Record
}

// StateEntry is the committed state of one domain.
type StateEntry struct {
	Domain      Domain
	Record      Record
	LastUpdated time.Time
	Source      Source
	Sequence    uint64 // strictly increasing per domain
	Stale       bool
}

// HasRecord reports whether a record has been committed for the domain.
func (e StateEntry) HasRecord() bool {
	return e.Record != nil
}

// Channel names a push stream exposed by the backend.
type Channel string

const (
	ChannelMarket Channel = "market"
	ChannelTrades Channel = "trades"
)

// Channels lists the streams a session opens.
var Channels = []Channel{ChannelMarket, ChannelTrades}

// Domain returns the domain a channel's frames update.
func (c Channel) Domain() Domain {
	switch c {
	case ChannelMarket:
		return DomainMarket
	case ChannelTrades:
		return DomainTrades
	default:
		return ""
	}
}
