// Package normalize canonicalizes extracted display text before it reaches
// the store. Everything here is pure: same input, same output, no IO.
package normalize

import (
	"strings"

	"leadharvest_backend/internal/model"
	"leadharvest_backend/internal/pipeline/extract"
)

// Listing is the canonical form of an extracted listing. Optional fields are
// nil when absent so the reconciler never writes empty strings.
type Listing struct {
	Zid     *string
	Address *string
	ZipCode string
	Region  string
	Price   *string
	Beds    *string
	Link    *string
}

// Contact is the canonical form of an attribution entry.
type Contact struct {
	AgentID     *string
	Name        *string
	PhoneNumber string
	Type        model.ContactType
	LicenseNo   *string
	Company     *string
}

// DefaultCountryCode prefixes bare 10-digit phone numbers.
const DefaultCountryCode = "1"

// Phone strips everything but digits and returns the canonical
// "+<country><number>" form. Anything with fewer than 10 digits is noise
// from the page, not a reachable number, and is rejected.
func Phone(raw, countryCode string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case len(d) < 10:
		return "", false
	case len(d) == 10:
		return "+" + countryCode + d, true
	case len(d) == len(countryCode)+10 && strings.HasPrefix(d, countryCode):
		return "+" + d, true
	default:
		return "", false
	}
}

// ListingFrom canonicalizes one extracted listing.
func ListingFrom(l extract.Listing) Listing {
	region := strings.TrimSpace(l.Region)
	if region == "" {
		region = regionFromAddress(l.Address)
	}
	return Listing{
		Zid:     optional(l.Zid),
		Address: optional(l.Address),
		ZipCode: strings.TrimSpace(l.ZipCode),
		Region:  region,
		Price:   optional(l.Price),
		Beds:    optional(l.Beds),
		Link:    optional(l.Link),
	}
}

// regionFromAddress derives a "City, ST" tag from a full street address like
// "123 Main St, Beverly Hills, CA 90210". Returns "" when the address does
// not carry both parts.
func regionFromAddress(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) < 3 {
		return ""
	}
	city := strings.TrimSpace(parts[len(parts)-2])
	stateZip := strings.Fields(strings.TrimSpace(parts[len(parts)-1]))
	if city == "" || len(stateZip) == 0 || len(stateZip[0]) != 2 {
		return ""
	}
	return city + ", " + strings.ToUpper(stateZip[0])
}

// ContactFrom canonicalizes one attribution entry. The second return is
// false when the entry carries neither a usable phone nor an agent id and
// should be dropped.
func ContactFrom(a extract.AgentInfo, countryCode string) (Contact, bool) {
	c := Contact{
		AgentID:   optional(a.AgentID),
		Name:      optional(a.Name),
		LicenseNo: optional(a.License),
		Company:   optional(a.Company),
		Type:      model.ContactTypeAgent,
	}
	if a.IsBroker {
		c.Type = model.ContactTypeBroker
	}

	if phone, ok := Phone(a.Phone, countryCode); ok {
		c.PhoneNumber = phone
	}
	if c.PhoneNumber == "" && c.AgentID == nil {
		return Contact{}, false
	}
	return c, true
}

// optional trims s and returns nil for the empty string.
func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
