package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RunMode string

const (
	RunModeFull     RunMode = "full"
	RunModeListings RunMode = "listings"
	RunModeContacts RunMode = "contacts"
)

// ScrapeRun records one pipeline execution for the ops API and for
// after-the-fact debugging of cron runs.
type ScrapeRun struct {
	gorm.Model
	RunID      string     `json:"run_id" gorm:"uniqueIndex"`
	Mode       RunMode    `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	Succeeded       int `json:"succeeded"`
	NoListings      int `json:"no_listings"`
	Failed          int `json:"failed"`
	LeadsCreated    int `json:"leads_created"`
	LeadsUpdated    int `json:"leads_updated"`
	ContactsCreated int `json:"contacts_created"`

	Outcomes datatypes.JSON `json:"outcomes"`
}
