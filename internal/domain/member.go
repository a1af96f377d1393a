/**
 * @description
 * This file defines the Member model as it is stored at the identity provider,
 * together with the metadata blocks the service reads and writes.
 */
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role names stored in app_metadata.roles.
const (
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
)

// Member is an identity-provider user record.
type Member struct {
	ID           string       `json:"user_id"`
	Email        string       `json:"email"`
	GivenName    string       `json:"given_name,omitempty"`
	FamilyName   string       `json:"family_name,omitempty"`
	Name         string       `json:"name,omitempty"`
	Nickname     string       `json:"nickname,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastLogin    *time.Time   `json:"last_login,omitempty"`
	LoginsCount  int          `json:"logins_count,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	AppMetadata  AppMetadata  `json:"app_metadata"`
}

// UserMetadata holds the free-form contact fields a member may edit.
type UserMetadata struct {
	Address   string `json:"address,omitempty"`
	Zip       string `json:"zip,omitempty"`
	City      string `json:"city,omitempty"`
	Country   string `json:"country,omitempty"`
	Phone     string `json:"phone,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
}

// AppMetadata holds fields only the service may edit.
type AppMetadata struct {
	Roles            []string          `json:"roles,omitempty"`
	Payments         PaymentsMetadata  `json:"payments,omitempty"`
	CheckoutSessions map[string]string `json:"checkout_sessions,omitempty"`
}

// PaymentsMetadata is the stored payments object keyed by flavour. Values are
// kept as decoded JSON so malformed entries surface as error-state properties
// instead of failing the decode of the member.
type PaymentsMetadata map[string]interface{}

// UnmarshalJSON accepts any JSON value. When the payments value itself is not
// an object, every flavour receives that value and reads as malformed.
func (p *PaymentsMetadata) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*p = nil
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		*p = obj
		return nil
	}
	var other interface{}
	if err := json.Unmarshal(trimmed, &other); err != nil {
		return err
	}
	out := make(PaymentsMetadata, len(Flavours))
	for _, f := range Flavours {
		out[string(f)] = other
	}
	*p = out
	return nil
}

// HasRole reports whether the member holds any of the given roles.
func (m Member) HasRole(roles ...string) bool {
	for _, have := range m.AppMetadata.Roles {
		for _, want := range roles {
			if strings.EqualFold(strings.TrimSpace(have), want) {
				return true
			}
		}
	}
	return false
}

// RawPayment returns the stored payment value for a flavour as decoded JSON,
// or nil.
func (m Member) RawPayment(f Flavour) interface{} {
	if m.AppMetadata.Payments == nil {
		return nil
	}
	return m.AppMetadata.Payments[string(f)]
}

// StoredPayment reads the stored payment of a flavour. A value that is not an
// object yields an error-state property.
func (m Member) StoredPayment(f Flavour, today time.Time) PaymentProperty {
	switch raw := m.RawPayment(f).(type) {
	case nil:
		return PaymentProperty{Flavour: f}
	case map[string]interface{}:
		return NewPaymentPropertyFromMetadata(f, raw, today)
	default:
		return errorProperty(f, fmt.Sprintf("stored payment is %T, not an object", raw))
	}
}

// DisplayName prefers given and family name over the provider's name field.
func (m Member) DisplayName() string {
	full := strings.TrimSpace(m.GivenName + " " + m.FamilyName)
	if full != "" {
		return full
	}
	if m.Name != "" {
		return m.Name
	}
	return m.Email
}

// ProfileUpdate is the set of profile fields a member may change.
type ProfileUpdate struct {
	GivenName  string `json:"given_name" validate:"required,max=100"`
	FamilyName string `json:"family_name" validate:"required,max=100"`
	Address    string `json:"address" validate:"max=200"`
	Zip        string `json:"zip" validate:"max=20"`
	City       string `json:"city" validate:"max=100"`
	Country    string `json:"country" validate:"max=100"`
	Phone      string `json:"phone" validate:"max=40"`
	BirthDate  string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
}

// MemberView is what the API returns for a member: the stored record plus
// the derived payment properties.
type MemberView struct {
	Member
	Membership PaymentProperty `json:"membership"`
	HouseCard  PaymentProperty `json:"housecard"`
}

// NewMemberView derives both payment properties for a member as of today.
func NewMemberView(m Member, today time.Time) MemberView {
	return MemberView{
		Member:     m,
		Membership: m.StoredPayment(FlavourMembership, today),
		HouseCard:  m.StoredPayment(FlavourHouseCard, today),
	}
}

// Payment returns the property for the given flavour.
func (v MemberView) Payment(f Flavour) PaymentProperty {
	if f == FlavourHouseCard {
		return v.HouseCard
	}
	return v.Membership
}
