package directory

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/smarzola/dirsync/pkg/config"
)

// DefaultPageSize is used when a pager is created with a zero page size.
const DefaultPageSize uint32 = 100

// AllAttributes selects every user and operational attribute.
var AllAttributes = []string{"*", "+"}

// Searcher runs a single search round trip. *ldap.Conn satisfies it.
type Searcher interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// Query describes one enumeration of the directory.
type Query struct {
	BaseDN     string
	Filter     string
	Scope      string // base, one or sub
	Attributes []string
}

// Pager enumerates search results one page at a time using the simple paged
// results control.
type Pager struct {
	conn     Searcher
	pageSize uint32
	maxPages int
}

// NewPager creates a pager over conn.
func NewPager(conn Searcher, pageSize uint32) *Pager {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{conn: conn, pageSize: pageSize}
}

// WithMaxPages caps the number of pages fetched; zero means unbounded.
func (p *Pager) WithMaxPages(n int) *Pager {
	p.maxPages = n
	return p
}

// ParseScope maps a scope name to its go-ldap constant, accepting the same
// names as source validation.
func ParseScope(scope string) (int, error) {
	return config.ParseScope(scope)
}

// Pages lazily fetches pages for q. Each yielded page holds the entries of one
// response in arrival order. Iteration ends when the server returns an empty
// cookie or no paging control at all. A failed round trip yields the error
// once and stops.
func (p *Pager) Pages(ctx context.Context, q Query) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		scope, err := ParseScope(q.Scope)
		if err != nil {
			yield(Page{}, err)
			return
		}
		attrs := q.Attributes
		if len(attrs) == 0 {
			attrs = AllAttributes
		}

		pagingControl := ldap.NewControlPaging(p.pageSize)
		req := ldap.NewSearchRequest(
			q.BaseDN,
			scope,
			ldap.NeverDerefAliases, 0, 0, false,
			q.Filter,
			attrs,
			[]ldap.Control{pagingControl},
		)

		start := time.Now()
		total := 0
		for number := 1; ; number++ {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}

			res, err := p.conn.Search(req)
			if err != nil {
				yield(Page{}, wrapError("search", q.BaseDN, err))
				return
			}

			page := Page{Number: number, Entries: make([]Entry, 0, len(res.Entries))}
			for _, e := range res.Entries {
				page.Entries = append(page.Entries, NewEntry(e))
			}
			total += len(page.Entries)
			slog.Debug("Fetched directory page", "base_dn", q.BaseDN, "page", number, "entries", len(page.Entries))

			if !yield(page, nil) {
				return
			}

			if p.maxPages > 0 && number >= p.maxPages {
				slog.Warn("Stopping paged search at page limit", "base_dn", q.BaseDN, "max_pages", p.maxPages)
				break
			}

			ctrl, ok := ldap.FindControl(res.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
			if !ok || len(ctrl.Cookie) == 0 {
				break
			}
			pagingControl.SetCookie(ctrl.Cookie)
		}

		slog.Info("Paged search completed",
			"base_dn", q.BaseDN,
			"filter", q.Filter,
			"total_entries", total,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
