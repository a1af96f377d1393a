package domain

import "strings"

// Flavour is a fee category. Each flavour is billed through its own
// payment-processor account.
type Flavour string

const (
	FlavourMembership Flavour = "membership"
	FlavourHouseCard  Flavour = "housecard"
)

// Flavours lists every fee flavour in a stable order.
var Flavours = []Flavour{FlavourMembership, FlavourHouseCard}

// ParseFlavour accepts the canonical names and the spellings used by older clients.
func ParseFlavour(s string) (Flavour, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "membership", "membfee", "member":
		return FlavourMembership, true
	case "housecard", "house-card", "house_card", "hcard":
		return FlavourHouseCard, true
	}
	return "", false
}
