// Package reconcile merges normalized listings into the store. Every
// operation is idempotent: re-running a batch over unchanged pages writes
// nothing new.
package reconcile

import (
	"errors"
	"strings"

	"leadharvest_backend/internal/model"
	"leadharvest_backend/internal/pipeline/normalize"

	"gorm.io/gorm"
)

// Reconciler owns the merge rules. Concurrent writers are coordinated by the
// store's unique indexes, not by application locks: a conflicting insert is
// re-read and merged once, then surfaced.
type Reconciler struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

// Result counts what one listing merge actually changed.
type Result struct {
	LeadCreated     bool
	LeadUpdated     bool
	ContactsCreated int
}

var ErrUnidentifiable = errors.New("listing has neither external id nor zip+address")

// Listing merges one listing and its contacts. Workflow fields (status,
// priority, notes, follow-up dates) are never touched on existing leads;
// only the refreshable page-derived fields are.
func (r *Reconciler) Listing(listing normalize.Listing, contacts []normalize.Contact) (Result, error) {
	var res Result

	err := r.db.Transaction(func(tx *gorm.DB) error {
		lead, created, err := r.findOrCreateLead(tx, listing)
		if err != nil {
			return err
		}
		res.LeadCreated = created

		if !created {
			updated, err := r.refreshLead(tx, lead, listing)
			if err != nil {
				return err
			}
			res.LeadUpdated = updated
		}

		n, err := r.mergeContacts(tx, lead, contacts)
		if err != nil {
			return err
		}
		res.ContactsCreated = n
		return nil
	})

	return res, err
}

// ContactPass merges contacts fetched for an existing lead. A pass that
// yields zero contacts still counts against the lead's attempt ceiling so
// dead listings stop being re-fetched.
func (r *Reconciler) ContactPass(lead *model.Lead, contacts []normalize.Contact) (int, error) {
	var created int

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if len(contacts) == 0 {
			return tx.Model(lead).
				Update("contact_fetch_attempts", gorm.Expr("contact_fetch_attempts + 1")).Error
		}
		n, err := r.mergeContacts(tx, lead, contacts)
		created = n
		return err
	})

	return created, err
}

func (r *Reconciler) findOrCreateLead(tx *gorm.DB, listing normalize.Listing) (*model.Lead, bool, error) {
	existing, err := lookupLead(tx, listing)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	lead := &model.Lead{
		Zid:      listing.Zid,
		Address:  listing.Address,
		ZipCode:  listing.ZipCode,
		Region:   listing.Region,
		Price:    listing.Price,
		Beds:     listing.Beds,
		Link:     listing.Link,
		Status:   model.LeadStatusNew,
		Priority: model.LeadPriorityMedium,
		Source:   model.LeadSourceScraped,
	}

	if err := tx.Create(lead).Error; err != nil {
		if !isDuplicateKey(err) {
			return nil, false, err
		}
		// Lost the insert race; the winner's row is the lead now.
		existing, err = lookupLead(tx, listing)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, errors.New("lead vanished after duplicate key conflict")
		}
		return existing, false, nil
	}
	return lead, true, nil
}

func lookupLead(tx *gorm.DB, listing normalize.Listing) (*model.Lead, error) {
	var lead model.Lead
	var err error

	switch {
	case listing.Zid != nil:
		err = tx.Where("zid = ?", *listing.Zid).First(&lead).Error
	case listing.Address != nil && listing.ZipCode != "":
		err = tx.Where("zip_code = ? AND address = ?", listing.ZipCode, *listing.Address).First(&lead).Error
	default:
		return nil, ErrUnidentifiable
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// refreshLead updates the page-derived fields that legitimately change
// between scrapes. Missing page values never clear stored ones.
func (r *Reconciler) refreshLead(tx *gorm.DB, lead *model.Lead, listing normalize.Listing) (bool, error) {
	updates := map[string]interface{}{}

	refresh := func(col string, current, fresh *string) {
		if fresh != nil && (current == nil || *current != *fresh) {
			updates[col] = *fresh
		}
	}
	refresh("price", lead.Price, listing.Price)
	refresh("beds", lead.Beds, listing.Beds)
	refresh("link", lead.Link, listing.Link)
	if lead.ZipCode == "" && listing.ZipCode != "" {
		updates["zip_code"] = listing.ZipCode
	}
	if lead.Region == "" && listing.Region != "" {
		updates["region"] = listing.Region
	}

	if len(updates) == 0 {
		return false, nil
	}
	return true, tx.Model(lead).Updates(updates).Error
}

func (r *Reconciler) mergeContacts(tx *gorm.DB, lead *model.Lead, contacts []normalize.Contact) (int, error) {
	created := 0
	for _, c := range contacts {
		contact, isNew, err := r.findOrCreateContact(tx, c)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
		if err := tx.Model(lead).Association("Contacts").Append(contact); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (r *Reconciler) findOrCreateContact(tx *gorm.DB, c normalize.Contact) (*model.Contact, bool, error) {
	existing, err := lookupContact(tx, c)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, r.fillContact(tx, existing, c)
	}

	contact := &model.Contact{
		AgentID:     c.AgentID,
		Name:        c.Name,
		PhoneNumber: c.PhoneNumber,
		Type:        c.Type,
		LicenseNo:   c.LicenseNo,
		Company:     c.Company,
	}
	if err := tx.Create(contact).Error; err != nil {
		if !isDuplicateKey(err) {
			return nil, false, err
		}
		existing, err = lookupContact(tx, c)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, errors.New("contact vanished after duplicate key conflict")
		}
		return existing, false, r.fillContact(tx, existing, c)
	}
	return contact, true, nil
}

func lookupContact(tx *gorm.DB, c normalize.Contact) (*model.Contact, error) {
	var contact model.Contact
	var err error

	switch {
	case c.AgentID != nil:
		err = tx.Where("agent_id = ?", *c.AgentID).First(&contact).Error
	case c.PhoneNumber != "":
		err = tx.Where("phone_number = ?", c.PhoneNumber).First(&contact).Error
	default:
		return nil, nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// fillContact completes missing fields on an existing contact. Populated
// fields are never overwritten: the first sighting wins.
func (r *Reconciler) fillContact(tx *gorm.DB, contact *model.Contact, c normalize.Contact) error {
	updates := map[string]interface{}{}

	fill := func(col string, current, fresh *string) {
		if current == nil && fresh != nil {
			updates[col] = *fresh
		}
	}
	fill("agent_id", contact.AgentID, c.AgentID)
	fill("name", contact.Name, c.Name)
	fill("license_no", contact.LicenseNo, c.LicenseNo)
	fill("company", contact.Company, c.Company)
	if contact.PhoneNumber == "" && c.PhoneNumber != "" {
		updates["phone_number"] = c.PhoneNumber
	}

	if len(updates) == 0 {
		return nil
	}
	return tx.Model(contact).Updates(updates).Error
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
