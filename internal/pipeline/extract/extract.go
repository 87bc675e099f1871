package extract

import (
	"bytes"
	"errors"
	"regexp"
	"strings"

	"leadharvest_backend/internal/pipeline/fetch"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoCards means the page structure was recognized but no listing card
// matched any selector family. Callers map it to a no-listings outcome, not
// a transport failure.
var ErrNoCards = errors.New("no listing cards found")

// Listing is one raw listing as extracted from a search card. Values are
// display text exactly as the page shows them; the normalizer canonicalizes.
type Listing struct {
	Zid     string
	Address string
	Price   string
	Beds    string
	Link    string
	ZipCode string
	Region  string
}

// AgentInfo is one attribution entry from a listing detail page.
type AgentInfo struct {
	AgentID  string
	Name     string
	Phone    string
	Company  string
	License  string
	IsBroker bool
}

// cardFamily is one generation of search result markup. Families are tried
// in order; the first with any match wins the whole page.
type cardFamily struct {
	card    string
	address string
	price   string
	beds    string
	link    string
}

var cardFamilies = []cardFamily{
	{
		card:    `article[data-test="property-card"], [data-testid="property-card"]`,
		address: `[data-test="property-card-addr"], address`,
		price:   `[data-test="property-card-price"]`,
		beds:    `ul li`,
		link:    `a[data-test="property-card-link"], a[href*="/homedetails/"]`,
	},
	{
		card:    `.list-card`,
		address: `.list-card-addr`,
		price:   `.list-card-price`,
		beds:    `.list-card-details li`,
		link:    `a.list-card-link`,
	},
	{
		card:    `ul.photo-cards > li article`,
		address: `address`,
		price:   `[class*="price"]`,
		beds:    `ul li`,
		link:    `a[href*="/homedetails/"]`,
	},
}

var zidPattern = regexp.MustCompile(`/(\d+)_zpid`)

// SearchPage extracts listings from a search results page. Cards
// pre-extracted in the browser are used as-is; otherwise the HTML is parsed
// through the selector families.
func SearchPage(page *fetch.RawPage, zipCode string) ([]Listing, error) {
	if len(page.Cards) > 0 {
		out := make([]Listing, 0, len(page.Cards))
		for _, c := range page.Cards {
			out = append(out, Listing{
				Zid:     c.Zid,
				Address: c.Address,
				Price:   c.Price,
				Beds:    c.Beds,
				Link:    c.Link,
				ZipCode: zipCode,
			})
		}
		return out, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Content))
	if err != nil {
		return nil, err
	}

	for _, fam := range cardFamilies {
		cards := doc.Find(fam.card)
		if cards.Length() == 0 {
			continue
		}

		var listings []Listing
		cards.Each(func(i int, s *goquery.Selection) {
			link, _ := s.Find(fam.link).First().Attr("href")
			listings = append(listings, Listing{
				Zid:     zidFromLink(link),
				Address: clean(s.Find(fam.address).First().Text()),
				Price:   clean(s.Find(fam.price).First().Text()),
				Beds:    clean(s.Find(fam.beds).First().Text()),
				Link:    link,
				ZipCode: zipCode,
			})
		})
		return listings, nil
	}

	if page.MarkersPresent {
		return nil, ErrNoCards
	}
	return nil, errors.New("unrecognized page structure")
}

func zidFromLink(link string) string {
	if m := zidPattern.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
