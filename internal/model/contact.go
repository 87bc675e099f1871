package model

import (
	"gorm.io/gorm"
)

type ContactType string

const (
	ContactTypeAgent  ContactType = "AGENT"
	ContactTypeBroker ContactType = "BROKER"
)

// Contact is a listing agent or broker. AgentID is the platform profile id
// and is the strongest dedup key; otherwise contacts are matched on the
// canonical phone number.
type Contact struct {
	gorm.Model
	AgentID     *string     `json:"agent_id" gorm:"uniqueIndex"`
	Name        *string     `json:"name"`
	PhoneNumber string      `json:"phone_number" gorm:"index"`
	Type        ContactType `json:"type" gorm:"default:'AGENT'"`
	LicenseNo   *string     `json:"license_no"`
	Company     *string     `json:"company"`

	Leads []Lead `json:"leads" gorm:"many2many:lead_contacts;"`
}
