package reconcile

import (
	"fmt"
	"testing"

	"leadharvest_backend/internal/model"
	"leadharvest_backend/internal/pipeline/normalize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One shared in-memory database per test, named so tests stay isolated.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.Lead{}, &model.Contact{}))
	return db
}

func str(s string) *string { return &s }

func listingFixture() normalize.Listing {
	return normalize.Listing{
		Zid:     str("11111111"),
		Address: str("123 Main St"),
		ZipCode: "90210",
		Price:   str("$450,000"),
		Beds:    str("3 bds"),
		Link:    str("https://example.com/homedetails/11111111_zpid/"),
	}
}

func contactFixture() normalize.Contact {
	return normalize.Contact{
		AgentID:     str("jane-smith-123"),
		Name:        str("Jane Smith"),
		PhoneNumber: "+15551234567",
		Type:        model.ContactTypeAgent,
	}
}

func TestListingCreateDefaults(t *testing.T) {
	db := testDB(t)
	r := New(db)

	res, err := r.Listing(listingFixture(), nil)
	require.NoError(t, err)
	assert.True(t, res.LeadCreated)

	var lead model.Lead
	require.NoError(t, db.First(&lead).Error)
	assert.Equal(t, model.LeadStatusNew, lead.Status)
	assert.Equal(t, model.LeadPriorityMedium, lead.Priority)
	assert.Equal(t, model.LeadSourceScraped, lead.Source)
	assert.Zero(t, lead.ContactFetchAttempts)
}

func TestListingIdempotent(t *testing.T) {
	db := testDB(t)
	r := New(db)

	_, err := r.Listing(listingFixture(), []normalize.Contact{contactFixture()})
	require.NoError(t, err)

	res, err := r.Listing(listingFixture(), []normalize.Contact{contactFixture()})
	require.NoError(t, err)
	assert.False(t, res.LeadCreated)
	assert.False(t, res.LeadUpdated, "unchanged page must write nothing")
	assert.Zero(t, res.ContactsCreated)

	var leads, contacts int64
	db.Model(&model.Lead{}).Count(&leads)
	db.Model(&model.Contact{}).Count(&contacts)
	assert.EqualValues(t, 1, leads)
	assert.EqualValues(t, 1, contacts)
}

func TestListingDedupByZipAddressWithoutZid(t *testing.T) {
	db := testDB(t)
	r := New(db)

	l := listingFixture()
	l.Zid = nil

	_, err := r.Listing(l, nil)
	require.NoError(t, err)
	res, err := r.Listing(l, nil)
	require.NoError(t, err)
	assert.False(t, res.LeadCreated)

	var count int64
	db.Model(&model.Lead{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestListingUnidentifiable(t *testing.T) {
	r := New(testDB(t))

	_, err := r.Listing(normalize.Listing{Price: str("$1")}, nil)
	assert.ErrorIs(t, err, ErrUnidentifiable)
}

func TestRefreshNeverTouchesWorkflowFields(t *testing.T) {
	db := testDB(t)
	r := New(db)

	_, err := r.Listing(listingFixture(), nil)
	require.NoError(t, err)

	// An operator works the lead.
	var lead model.Lead
	require.NoError(t, db.First(&lead).Error)
	require.NoError(t, db.Model(&lead).Updates(map[string]interface{}{
		"status":   model.LeadStatusContacted,
		"priority": model.LeadPriorityHigh,
		"notes":    "called twice",
	}).Error)

	// The listing shows up again with a new price.
	fresh := listingFixture()
	fresh.Price = str("$425,000")
	res, err := r.Listing(fresh, nil)
	require.NoError(t, err)
	assert.True(t, res.LeadUpdated)

	require.NoError(t, db.First(&lead, lead.ID).Error)
	assert.Equal(t, "$425,000", *lead.Price)
	assert.Equal(t, model.LeadStatusContacted, lead.Status)
	assert.Equal(t, model.LeadPriorityHigh, lead.Priority)
	assert.Equal(t, "called twice", lead.Notes)
}

func TestRefreshMissingValuesDoNotClear(t *testing.T) {
	db := testDB(t)
	r := New(db)

	_, err := r.Listing(listingFixture(), nil)
	require.NoError(t, err)

	fresh := listingFixture()
	fresh.Price = nil
	fresh.Beds = nil
	res, err := r.Listing(fresh, nil)
	require.NoError(t, err)
	assert.False(t, res.LeadUpdated)

	var lead model.Lead
	require.NoError(t, db.First(&lead).Error)
	require.NotNil(t, lead.Price)
	assert.Equal(t, "$450,000", *lead.Price)
}

func TestContactDedupByAgentIDThenPhone(t *testing.T) {
	db := testDB(t)
	r := New(db)

	_, err := r.Listing(listingFixture(), []normalize.Contact{contactFixture()})
	require.NoError(t, err)

	// Same person on another listing, this time without the profile id.
	other := listingFixture()
	other.Zid = str("22222222")
	other.Address = str("456 Oak Ave")
	byPhone := contactFixture()
	byPhone.AgentID = nil

	res, err := r.Listing(other, []normalize.Contact{byPhone})
	require.NoError(t, err)
	assert.Zero(t, res.ContactsCreated, "phone match must reuse the contact")

	var count int64
	db.Model(&model.Contact{}).Count(&count)
	assert.EqualValues(t, 1, count)

	// Both leads share the one contact row.
	var lead model.Lead
	require.NoError(t, db.Preload("Contacts").Where("zid = ?", "22222222").First(&lead).Error)
	require.Len(t, lead.Contacts, 1)
}

func TestContactFillsOnlyMissingFields(t *testing.T) {
	db := testDB(t)
	r := New(db)

	first := contactFixture()
	first.Company = nil
	_, err := r.Listing(listingFixture(), []normalize.Contact{first})
	require.NoError(t, err)

	// Name conflicts and must not be overwritten; company and license are
	// missing and must be filled.
	second := contactFixture()
	second.Name = str("J. Smith")
	second.Company = str("Acme Realty Group")
	second.LicenseNo = str("01234567")

	_, err = r.Listing(listingFixture(), []normalize.Contact{second})
	require.NoError(t, err)

	var contact model.Contact
	require.NoError(t, db.First(&contact).Error)
	assert.Equal(t, "Jane Smith", *contact.Name, "first sighting wins")
	require.NotNil(t, contact.Company)
	assert.Equal(t, "Acme Realty Group", *contact.Company)
	require.NotNil(t, contact.LicenseNo)
	assert.Equal(t, "01234567", *contact.LicenseNo)
}

func TestContactPassIncrementsAttemptsOnEmpty(t *testing.T) {
	db := testDB(t)
	r := New(db)

	_, err := r.Listing(listingFixture(), nil)
	require.NoError(t, err)

	var lead model.Lead
	require.NoError(t, db.First(&lead).Error)

	for i := 1; i <= 3; i++ {
		created, err := r.ContactPass(&lead, nil)
		require.NoError(t, err)
		assert.Zero(t, created)

		var reloaded model.Lead
		require.NoError(t, db.First(&reloaded, lead.ID).Error)
		assert.Equal(t, i, reloaded.ContactFetchAttempts)
	}
}

func TestContactPassWithContactsDoesNotIncrement(t *testing.T) {
	db := testDB(t)
	r := New(db)

	_, err := r.Listing(listingFixture(), nil)
	require.NoError(t, err)

	var lead model.Lead
	require.NoError(t, db.First(&lead).Error)

	created, err := r.ContactPass(&lead, []normalize.Contact{contactFixture()})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	var reloaded model.Lead
	require.NoError(t, db.Preload("Contacts").First(&reloaded, lead.ID).Error)
	assert.Zero(t, reloaded.ContactFetchAttempts)
	assert.Len(t, reloaded.Contacts, 1)
}

func TestLeadRowCreatedOutOfBandIsMergedNotDuplicated(t *testing.T) {
	db := testDB(t)
	r := New(db)

	// Row inserted by another writer before this reconcile runs.
	require.NoError(t, db.Create(&model.Lead{
		Zid:     str("11111111"),
		ZipCode: "90210",
		Status:  model.LeadStatusNew,
	}).Error)

	res, err := r.Listing(listingFixture(), nil)
	require.NoError(t, err)
	assert.False(t, res.LeadCreated)

	var count int64
	db.Model(&model.Lead{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestUniqueIndexBacksDedup(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.Create(&model.Lead{Zid: str("11111111"), ZipCode: "90210"}).Error)
	err := db.Create(&model.Lead{Zid: str("11111111"), ZipCode: "90210"}).Error
	require.Error(t, err, "the store, not the app, enforces uniqueness")
	assert.True(t, isDuplicateKey(err), "conflict must be recognized so the retry path can re-read")
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(fmt.Errorf("UNIQUE constraint failed: leads.zid")))
	assert.True(t, isDuplicateKey(fmt.Errorf(`duplicate key value violates unique constraint "idx_leads_zid"`)))
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.False(t, isDuplicateKey(fmt.Errorf("connection refused")))
}
