package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"leadharvest_backend/internal/pipeline/fetch"

	"github.com/PuerkitoBio/goquery"
)

// Attribution sections, newest markup first.
var attributionSelectors = []string{
	`[data-testid="seller-attribution"]`,
	`[data-testid="listing-attribution"]`,
	`.agent-info`,
	`.ds-listing-agent-info`,
	`.listing-attribution`,
	`[class*="ListedBy"]`,
}

var (
	phonePattern   = regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	licensePattern = regexp.MustCompile(`(?i)(?:DRE|Lic|License)\.?\s*#?\s*([A-Z0-9][A-Z0-9-]{4,})`)
	profilePattern = regexp.MustCompile(`/profile/([A-Za-z0-9_-]+)`)
)

// Words that mark a line as a company rather than a person.
var companyTerms = []string{
	"realty", "realtors", "real estate", "properties", "group",
	"team", "brokerage", "homes", "associates", "llc", "inc",
}

// DetailPage extracts agent and broker attributions from a listing detail
// page. It tries the structured "listedBy" JSON the page embeds first, then
// falls back to walking the visible attribution section.
func DetailPage(page *fetch.RawPage) ([]AgentInfo, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Content))
	if err != nil {
		return nil, err
	}

	if agents := fromListedByJSON(doc); len(agents) > 0 {
		return agents, nil
	}
	return fromAttributionDOM(doc), nil
}

// listedByEntry mirrors the embedded attribution JSON: a list of id/text
// element pairs (NAME, PHONE, BROKER).
type listedByEntry struct {
	ID       string `json:"id"`
	Elements []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"elements"`
}

func fromListedByJSON(doc *goquery.Document) []AgentInfo {
	var agents []AgentInfo

	doc.Find("script").EachWithBreak(func(i int, s *goquery.Selection) bool {
		raw := s.Text()
		idx := strings.Index(raw, `"listedBy":`)
		if idx < 0 {
			return true
		}
		blob := extractJSONArray(raw[idx+len(`"listedBy":`):])
		if blob == "" {
			return true
		}

		var entries []listedByEntry
		if err := json.Unmarshal([]byte(blob), &entries); err != nil {
			return true
		}

		for _, entry := range entries {
			info := AgentInfo{IsBroker: strings.EqualFold(entry.ID, "BROKER")}
			for _, el := range entry.Elements {
				switch strings.ToUpper(el.ID) {
				case "NAME":
					info.Name = clean(el.Text)
				case "PHONE":
					info.Phone = clean(el.Text)
				case "BROKER":
					// the element is the brokerage name, not a role hint
					info.Company = clean(el.Text)
				}
			}
			if info.Name != "" || info.Phone != "" {
				agents = append(agents, info)
			}
		}
		return len(agents) == 0
	})

	return agents
}

// extractJSONArray returns the balanced [...] block at the start of s.
func extractJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func fromAttributionDOM(doc *goquery.Document) []AgentInfo {
	for _, sel := range attributionSelectors {
		section := doc.Find(sel).First()
		if section.Length() == 0 {
			continue
		}

		text := section.Text()
		info := AgentInfo{
			Phone:    phonePattern.FindString(text),
			IsBroker: strings.Contains(strings.ToLower(text), "broker"),
		}
		if m := licensePattern.FindStringSubmatch(text); m != nil {
			info.License = m[1]
		}
		if href, ok := section.Find(`a[href*="/profile/"]`).First().Attr("href"); ok {
			if m := profilePattern.FindStringSubmatch(href); m != nil {
				info.AgentID = m[1]
			}
		}

		// First non-company, non-phone line is the agent's name; the first
		// company-looking line is the brokerage.
		for _, line := range strings.Split(text, "\n") {
			line = clean(line)
			if line == "" || phonePattern.MatchString(line) || licensePattern.MatchString(line) {
				continue
			}
			if strings.HasPrefix(strings.ToLower(line), "listed by") {
				continue
			}
			if looksLikeCompany(line) {
				if info.Company == "" {
					info.Company = line
				}
			} else if info.Name == "" {
				info.Name = line
			}
		}

		if info.Name != "" || info.Phone != "" {
			return []AgentInfo{info}
		}
	}
	return nil
}

func looksLikeCompany(line string) bool {
	lower := strings.ToLower(line)
	for _, term := range companyTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
