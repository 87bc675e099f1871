// Package pipeline drives the scrape-extract-reconcile flow: a bounded
// worker pool fetches query keys, extraction and normalization turn pages
// into canonical tuples, and the reconciler merges them into the store.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"leadharvest_backend/internal/model"
	"leadharvest_backend/internal/pipeline/extract"
	"leadharvest_backend/internal/pipeline/fetch"
	"leadharvest_backend/internal/pipeline/normalize"
	"leadharvest_backend/internal/pipeline/reconcile"
	"leadharvest_backend/pkg/config"
	"leadharvest_backend/pkg/snapshot"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Fetcher is what the pipeline needs from the fetch layer. Satisfied by
// *fetch.Policy; stubbed in tests.
type Fetcher interface {
	Fetch(ctx context.Context, queryKey, pageURL string, kind fetch.PageKind) (*fetch.RawPage, error)
}

type OutcomeStatus string

const (
	OutcomeSuccess    OutcomeStatus = "success"
	OutcomeNoListings OutcomeStatus = "noListings"
	OutcomeFailed     OutcomeStatus = "failed"
)

// Outcome is the per-key result of a run. A failed key never aborts its
// batch; it is recorded and the batch moves on.
type Outcome struct {
	Key    string        `json:"key"`
	Status OutcomeStatus `json:"status"`
	Count  int           `json:"count,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type Pipeline struct {
	cfg     *config.Config
	fetcher Fetcher
	rec     *reconcile.Reconciler
	snap    *snapshot.Archiver
	limiter *rate.Limiter
	db      *gorm.DB

	sleep func(time.Duration) // stubbed in tests
}

func New(cfg *config.Config, fetcher Fetcher, db *gorm.DB) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		rec:     reconcile.New(db),
		snap:    snapshot.New(cfg.Snapshot),
		limiter: rate.NewLimiter(rate.Limit(cfg.Pipeline.RequestsPerSecond), 1),
		db:      db,
		sleep:   time.Sleep,
	}
}

// Run executes one pipeline run over the given zip codes and persists a
// summary. Contacts-only runs ignore the zip list and work off leads already
// in the store.
func (p *Pipeline) Run(ctx context.Context, zipCodes []string, mode model.RunMode) (*model.ScrapeRun, error) {
	run := &model.ScrapeRun{
		RunID:     uuid.New().String(),
		Mode:      mode,
		StartedAt: time.Now(),
	}
	log.Printf("Run %s started (mode=%s, keys=%d)", run.RunID, mode, len(zipCodes))

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Pipeline.MaxRuntime)
	defer cancel()

	var outcomes []Outcome
	if mode != model.RunModeContacts {
		outcomes = append(outcomes, p.runListings(ctx, zipCodes, run)...)
	}
	if mode != model.RunModeListings {
		outcomes = append(outcomes, p.runContacts(ctx, run)...)
	}

	for _, o := range outcomes {
		switch o.Status {
		case OutcomeSuccess:
			run.Succeeded++
		case OutcomeNoListings:
			run.NoListings++
		case OutcomeFailed:
			run.Failed++
		}
	}

	now := time.Now()
	run.FinishedAt = &now
	if blob, err := json.Marshal(outcomes); err == nil {
		run.Outcomes = blob
	}

	if p.db != nil {
		if err := p.db.Create(run).Error; err != nil {
			log.Printf("Could not persist run summary: %v", err)
		}
	}

	log.Printf("Run %s finished: %d succeeded, %d no listings, %d failed, %d leads created, %d updated, %d contacts created",
		run.RunID, run.Succeeded, run.NoListings, run.Failed, run.LeadsCreated, run.LeadsUpdated, run.ContactsCreated)
	return run, nil
}

// runListings processes zip codes in batches through the worker pool, with a
// cooldown between batches. Batches never overlap.
func (p *Pipeline) runListings(ctx context.Context, zipCodes []string, run *model.ScrapeRun) []Outcome {
	var outcomes []Outcome

	for start := 0; start < len(zipCodes); start += p.cfg.Pipeline.BatchSize {
		if ctx.Err() != nil {
			log.Printf("Run deadline reached, %d keys left unscheduled", len(zipCodes)-start)
			break
		}

		end := start + p.cfg.Pipeline.BatchSize
		if end > len(zipCodes) {
			end = len(zipCodes)
		}

		outcomes = append(outcomes, p.processBatch(ctx, zipCodes[start:end], run)...)

		if end < len(zipCodes) {
			p.sleep(p.cfg.Pipeline.BatchDelay)
		}
	}
	return outcomes
}

func (p *Pipeline) processBatch(ctx context.Context, keys []string, run *model.ScrapeRun) []Outcome {
	jobs := make(chan string)
	results := make(chan Outcome, len(keys))

	var wg sync.WaitGroup
	var mu sync.Mutex // guards run counters

	for i := 0; i < p.cfg.Pipeline.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range jobs {
				results <- p.processKey(ctx, key, run, &mu)
			}
		}()
	}

	for _, key := range keys {
		jobs <- key
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]Outcome, 0, len(keys))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// processKey runs fetch-extract-normalize-reconcile for one zip code.
func (p *Pipeline) processKey(ctx context.Context, zipCode string, run *model.ScrapeRun, mu *sync.Mutex) Outcome {
	if err := p.limiter.Wait(ctx); err != nil {
		return Outcome{Key: zipCode, Status: OutcomeFailed, Reason: "run deadline"}
	}

	pageURL := fetch.SearchURL(p.cfg.Scraper.SearchURLBase, zipCode)
	page, err := p.fetcher.Fetch(ctx, zipCode, pageURL, fetch.PageSearch)
	if err != nil {
		log.Printf("Key %s failed: %v", zipCode, err)
		return Outcome{Key: zipCode, Status: OutcomeFailed, Reason: string(fetch.KindOf(err))}
	}
	p.snap.Save(zipCode, page.Backend, page.Content)

	listings, err := extract.SearchPage(page, zipCode)
	if errors.Is(err, extract.ErrNoCards) {
		return Outcome{Key: zipCode, Status: OutcomeNoListings}
	}
	if err != nil {
		return Outcome{Key: zipCode, Status: OutcomeFailed, Reason: err.Error()}
	}
	if len(listings) == 0 {
		return Outcome{Key: zipCode, Status: OutcomeNoListings}
	}

	merged := 0
	for _, l := range listings {
		res, err := p.rec.Listing(normalize.ListingFrom(l), nil)
		if err != nil {
			if errors.Is(err, reconcile.ErrUnidentifiable) {
				continue
			}
			log.Printf("Reconcile failed for %s (%s): %v", zipCode, l.Address, err)
			continue
		}
		merged++
		mu.Lock()
		if res.LeadCreated {
			run.LeadsCreated++
		}
		if res.LeadUpdated {
			run.LeadsUpdated++
		}
		mu.Unlock()
	}

	return Outcome{Key: zipCode, Status: OutcomeSuccess, Count: merged}
}

// runContacts fetches detail pages for leads that still lack contacts and
// have not hit the attempt ceiling.
func (p *Pipeline) runContacts(ctx context.Context, run *model.ScrapeRun) []Outcome {
	leads, err := p.leadsNeedingContacts()
	if err != nil {
		log.Printf("Could not select leads for contact pass: %v", err)
		return []Outcome{{Key: "contact-pass", Status: OutcomeFailed, Reason: err.Error()}}
	}
	log.Printf("Contact pass over %d leads", len(leads))

	var outcomes []Outcome
	for i := range leads {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, p.processLeadContacts(ctx, &leads[i], run))
	}
	return outcomes
}

func (p *Pipeline) processLeadContacts(ctx context.Context, lead *model.Lead, run *model.ScrapeRun) Outcome {
	key := lead.ZipCode
	if lead.Zid != nil {
		key = *lead.Zid
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return Outcome{Key: key, Status: OutcomeFailed, Reason: "run deadline"}
	}

	page, err := p.fetcher.Fetch(ctx, key, *lead.Link, fetch.PageDetail)
	if err != nil {
		// Transport failures do not count against the attempt ceiling; only
		// a successful fetch that yields nothing does.
		return Outcome{Key: key, Status: OutcomeFailed, Reason: string(fetch.KindOf(err))}
	}
	p.snap.Save(key, page.Backend, page.Content)

	agents, err := extract.DetailPage(page)
	if err != nil {
		return Outcome{Key: key, Status: OutcomeFailed, Reason: err.Error()}
	}

	contacts := make([]normalize.Contact, 0, len(agents))
	for _, a := range agents {
		if c, ok := normalize.ContactFrom(a, p.cfg.Scraper.CountryCode); ok {
			contacts = append(contacts, c)
		}
	}

	created, err := p.rec.ContactPass(lead, contacts)
	if err != nil {
		return Outcome{Key: key, Status: OutcomeFailed, Reason: err.Error()}
	}
	run.ContactsCreated += created

	if len(contacts) == 0 {
		return Outcome{Key: key, Status: OutcomeNoListings}
	}
	return Outcome{Key: key, Status: OutcomeSuccess, Count: created}
}

func (p *Pipeline) leadsNeedingContacts() ([]model.Lead, error) {
	var leads []model.Lead
	err := p.db.
		Where("link IS NOT NULL AND contact_fetch_attempts < ?", p.cfg.Pipeline.ContactAttemptLimit).
		Where("id NOT IN (SELECT lead_id FROM lead_contacts)").
		Limit(p.cfg.Pipeline.BatchSize * 10).
		Find(&leads).Error
	return leads, err
}
