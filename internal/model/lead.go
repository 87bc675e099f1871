package model

import (
	"time"

	"gorm.io/gorm"
)

type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "NEW"
	LeadStatusContacted LeadStatus = "CONTACTED"
	LeadStatusQualified LeadStatus = "QUALIFIED"
	LeadStatusConverted LeadStatus = "CONVERTED"
	LeadStatusClosed    LeadStatus = "CLOSED"
)

type LeadPriority string

const (
	LeadPriorityLow    LeadPriority = "LOW"
	LeadPriorityMedium LeadPriority = "MEDIUM"
	LeadPriorityHigh   LeadPriority = "HIGH"
)

type LeadSource string

const (
	LeadSourceScraped LeadSource = "SCRAPED"
	LeadSourceManual  LeadSource = "MANUAL"
)

// Lead is one property listing being worked as a sales lead. Zid is the
// listing's external identifier and is unique when present; listings without
// one are identified by the zip code + address pair.
type Lead struct {
	gorm.Model
	Zid     *string `json:"zid" gorm:"uniqueIndex"`
	Address *string `json:"address" gorm:"index:idx_leads_zip_address"`
	ZipCode string  `json:"zip_code" gorm:"index:idx_leads_zip_address"`
	Region  string  `json:"region"`
	Price   *string `json:"price"`
	Beds    *string `json:"beds"`
	Link    *string `json:"link"`

	Status   LeadStatus   `json:"status" gorm:"default:'NEW'"`
	Priority LeadPriority `json:"priority" gorm:"default:'MEDIUM'"`
	Source   LeadSource   `json:"source" gorm:"default:'SCRAPED'"`

	ContactFetchAttempts int        `json:"contact_fetch_attempts" gorm:"default:0"`
	LastContactDate      *time.Time `json:"last_contact_date"`
	NextFollowUpDate     *time.Time `json:"next_follow_up_date"`
	Notes                string     `json:"notes" gorm:"type:text"`

	Contacts []Contact `json:"contacts" gorm:"many2many:lead_contacts;"`
}
