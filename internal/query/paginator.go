package query

import (
	"net/url"
	"strconv"
	"strings"
)

// Page is the slice of a result set returned to the client.
type Page struct {
	Rows         []Row
	Number       int
	Size         int
	TotalRecords int
	TotalPages   int
	// Requested distinguishes an explicit page parameter from the
	// unpaginated default; only requested pages carry links.
	Requested bool
}

// Pagination holds the navigation links of a requested page. Absent links
// are null.
type Pagination struct {
	Current  *string `json:"current" xml:"current"`
	Next     *string `json:"next" xml:"next"`
	Previous *string `json:"previous" xml:"previous"`
	First    *string `json:"first" xml:"first"`
	Last     *string `json:"last" xml:"last"`
}

// Paginator slices result sets into pages.
type Paginator struct {
	cfg Config
}

// NewPaginator creates a paginator with the configured page sizes.
func NewPaginator(cfg Config) *Paginator {
	return &Paginator{cfg: cfg.withDefaults()}
}

// Paginate returns the requested page of rows. A nil page returns the
// whole result up to the max page limit. A page past the end, or any page
// of an empty result, fails with ErrPageOutOfRange.
func (p *Paginator) Paginate(rows []Row, page *int) (Page, error) {
	total := len(rows)

	if page == nil {
		size := p.cfg.MaxPageLimit
		out := rows
		if len(out) > size {
			out = out[:size]
		}
		return Page{
			Rows:         out,
			Number:       1,
			Size:         size,
			TotalRecords: total,
			TotalPages:   pageCount(total, size),
		}, nil
	}

	n := *page
	if n < 1 {
		return Page{}, newError(KindInvalidPage, "Invalid page '%d': pages start at 1.", n)
	}

	size := p.cfg.PageSize
	pages := pageCount(total, size)
	if n > pages {
		return Page{}, ErrPageOutOfRange
	}

	start := (n - 1) * size
	end := min(start+size, total)

	return Page{
		Rows:         rows[start:end],
		Number:       n,
		Size:         size,
		TotalRecords: total,
		TotalPages:   pages,
		Requested:    true,
	}, nil
}

func pageCount(total, size int) int {
	if total == 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Links builds the navigation links for a requested page. The page
// parameter is removed from rawQuery and appended last; every other
// parameter keeps its position. Unrequested pages have no links.
func (p *Paginator) Links(pg Page, basePath, rawQuery string) *Pagination {
	if !pg.Requested {
		return nil
	}

	kept := make([]string, 0)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if name, err := url.QueryUnescape(key); err == nil && name == "page" {
			continue
		}
		kept = append(kept, pair)
	}

	prefix := basePath + "?"
	if len(kept) > 0 {
		prefix += strings.Join(kept, "&") + "&"
	}
	link := func(n int) *string {
		s := prefix + "page=" + strconv.Itoa(n)
		return &s
	}

	out := &Pagination{
		Current: link(pg.Number),
		First:   link(1),
		Last:    link(pg.TotalPages),
	}
	if pg.Number < pg.TotalPages {
		out.Next = link(pg.Number + 1)
	}
	if pg.Number > 1 {
		out.Previous = link(pg.Number - 1)
	}
	return out
}
