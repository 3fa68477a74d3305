// Package market parses and classifies market identifiers.
//
// A market ID is an opaque short string of the form <entity>:<league>:<season>
// followed by a single terminal discriminator: 'T' for team markets (vector
// inventory) and 'P' for player markets (scalar long/short inventory).
// Everything downstream — snapshot shape, maker variant, back-price divisor,
// document collection — follows from that last character.
package market

import (
	"fmt"
	"strings"
)

// Kind discriminates the two market variants.
type Kind int

const (
	KindTeam Kind = iota
	KindPlayer
)

func (k Kind) String() string {
	if k == KindPlayer {
		return "player"
	}
	return "team"
}

// Market is a parsed market identifier.
type Market struct {
	ID     string // the full original identifier, including the terminal letter
	Kind   Kind
	Entity string
	League string
	Season string
}

// Parse validates and splits a market identifier.
func Parse(id string) (Market, error) {
	if len(id) < 2 {
		return Market{}, fmt.Errorf("market id %q too short", id)
	}

	var kind Kind
	switch id[len(id)-1] {
	case 'T':
		kind = KindTeam
	case 'P':
		kind = KindPlayer
	default:
		return Market{}, fmt.Errorf("market id %q must end in T or P", id)
	}

	parts := strings.Split(id[:len(id)-1], ":")
	if len(parts) != 3 {
		return Market{}, fmt.Errorf("market id %q must have entity:league:season segments", id)
	}
	for _, p := range parts {
		if p == "" {
			return Market{}, fmt.Errorf("market id %q has an empty segment", id)
		}
	}

	return Market{
		ID:     id,
		Kind:   kind,
		Entity: parts[0],
		League: parts[1],
		Season: parts[2],
	}, nil
}

// IsTeam reports whether the market carries a vector inventory.
func (m Market) IsTeam() bool { return m.Kind == KindTeam }

// Collection returns the document-store collection the market's metadata
// lives in.
func (m Market) Collection() string {
	if m.IsTeam() {
		return "teams"
	}
	return "players"
}

// BackDivisor is the decay constant of the reference claim vector used for
// back prices: 6 for team markets, 3 for player markets.
func (m Market) BackDivisor() float64 {
	if m.IsTeam() {
		return 6
	}
	return 3
}

// SplitByLeague groups player market IDs by their league segment, so the
// snapshotter can read player state in league-sized chunks. IDs that do not
// parse are skipped.
func SplitByLeague(ids []string) map[string][]string {
	out := make(map[string][]string)
	for _, id := range ids {
		m, err := Parse(id)
		if err != nil {
			continue
		}
		out[m.League] = append(out[m.League], id)
	}
	return out
}
