package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type PageKind string

const (
	PageSearch PageKind = "search" // zip code search results
	PageDetail PageKind = "detail" // single listing page
)

// Request is one fetch attempt. Identity and ProxyURL are rotated by the
// policy before every attempt; backends must not cache them.
type Request struct {
	QueryKey string // zip code for search pages, full URL for detail pages
	URL      string
	Kind     PageKind
	Identity Identity
	ProxyURL string
	Timeout  time.Duration
}

// RawCard is a listing card pre-extracted in the browser. Only the stealth
// backend fills these; the other backends return HTML for the extractor.
type RawCard struct {
	Zid     string `json:"zid"`
	Address string `json:"address"`
	Price   string `json:"price"`
	Beds    string `json:"beds"`
	Link    string `json:"link"`
}

type RawPage struct {
	Backend        string
	Content        []byte
	Cards          []RawCard
	MarkersPresent bool // page structure recognized even if zero cards
	FetchedAt      time.Time
}

// Backend fetches one page. Implementations return *Error so the policy can
// distinguish blocks from transient failures.
type Backend interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*RawPage, error)
}

type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindBlocked     ErrorKind = "blocked"
	KindEmptyResult ErrorKind = "empty_result"
	KindNetwork     ErrorKind = "network"
)

type Error struct {
	Kind    ErrorKind
	Backend string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Backend, e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Backend, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, backend, detail string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Detail: detail, Err: err}
}

// KindOf returns the failure kind, defaulting to network for errors that did
// not come from a backend.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNetwork
}
