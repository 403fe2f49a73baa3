// Package lookup resolves geographic codes and names to their
// administrative hierarchy.
package lookup

import (
	"strings"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
)

// Category is the hierarchy level a search runs against.
type Category string

const (
	CategoryPostcode Category = "postcode"
	CategoryLsoa     Category = "lsoa"
	CategoryMsoa     Category = "msoa"
	CategoryLtla     Category = "ltla"
	CategoryUtla     Category = "utla"
	CategoryRegion   Category = "region"
	CategoryNation   Category = "nation"
)

// Categories lists the categories from finest to coarsest.
func Categories() []Category {
	return []Category{
		CategoryPostcode,
		CategoryLsoa,
		CategoryMsoa,
		CategoryLtla,
		CategoryUtla,
		CategoryRegion,
		CategoryNation,
	}
}

// ParseCategory resolves a category name regardless of case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", query.NewError(query.KindInvalidCategory,
		"Invalid category '%s': expected one of postcode, lsoa, msoa, ltla, utla, region, nation.", s)
}

// Geometry is a GeoJSON point.
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// Code is one resolved entity with its full hierarchy.
type Code struct {
	Postcode        string   `json:"postcode"`
	TrimmedPostcode string   `json:"trimmedPostcode"`
	Geometry        Geometry `json:"geometry"`
	Lsoa            string   `json:"lsoa"`
	LsoaName        string   `json:"lsoaName"`
	Msoa            string   `json:"msoa"`
	MsoaName        string   `json:"msoaName"`
	Ltla            string   `json:"ltla"`
	LtlaName        string   `json:"ltlaName"`
	Utla            string   `json:"utla"`
	UtlaName        string   `json:"utlaName"`
	Region          string   `json:"region"`
	RegionName      string   `json:"regionName"`
	Nation          string   `json:"nation"`
	NationName      string   `json:"nationName"`
	NhsTrust        string   `json:"nhsTrust"`
	NhsTrustName    string   `json:"nhsTrustName"`
	NhsRegion       string   `json:"nhsRegion"`
	NhsRegionName   string   `json:"nhsRegionName"`
}

func newCode(p dataset.Place) Code {
	return Code{
		Postcode:        p.Postcode,
		TrimmedPostcode: p.TrimmedPostcode,
		Geometry:        Geometry{Type: "Point", Coordinates: [2]float64{p.Longitude, p.Latitude}},
		Lsoa:            p.Lsoa,
		LsoaName:        p.LsoaName,
		Msoa:            p.Msoa,
		MsoaName:        p.MsoaName,
		Ltla:            p.Ltla,
		LtlaName:        p.LtlaName,
		Utla:            p.Utla,
		UtlaName:        p.UtlaName,
		Region:          p.Region,
		RegionName:      p.RegionName,
		Nation:          p.Nation,
		NationName:      p.NationName,
		NhsTrust:        p.NhsTrust,
		NhsTrustName:    p.NhsTrustName,
		NhsRegion:       p.NhsRegion,
		NhsRegionName:   p.NhsRegionName,
	}
}

// level returns the code and name a place carries at the category.
func level(p *dataset.Place, c Category) (code, name string) {
	switch c {
	case CategoryPostcode:
		return p.TrimmedPostcode, p.Postcode
	case CategoryLsoa:
		return p.Lsoa, p.LsoaName
	case CategoryMsoa:
		return p.Msoa, p.MsoaName
	case CategoryLtla:
		return p.Ltla, p.LtlaName
	case CategoryUtla:
		return p.Utla, p.UtlaName
	case CategoryRegion:
		return p.Region, p.RegionName
	case CategoryNation:
		return p.Nation, p.NationName
	}
	return "", ""
}

// canonical blanks everything finer than the category, so every place in
// one area yields the same hierarchy.
func canonical(p dataset.Place, c Category) dataset.Place {
	if c == CategoryPostcode {
		return p
	}
	p.Postcode, p.TrimmedPostcode = "", ""
	p.Longitude, p.Latitude = 0, 0
	if c == CategoryLsoa {
		return p
	}
	p.Lsoa, p.LsoaName = "", ""
	if c == CategoryMsoa {
		return p
	}
	p.Msoa, p.MsoaName = "", ""
	// Trusts do not nest inside local authorities.
	p.NhsTrust, p.NhsTrustName = "", ""
	if c == CategoryLtla {
		return p
	}
	p.Ltla, p.LtlaName = "", ""
	if c == CategoryUtla {
		return p
	}
	p.Utla, p.UtlaName = "", ""
	if c == CategoryRegion {
		return p
	}
	p.Region, p.RegionName = "", ""
	p.NhsRegion, p.NhsRegionName = "", ""
	return p
}

// Index answers code searches over one snapshot's places.
type Index struct {
	places []dataset.Place
}

// NewIndex builds an index over places, which must not be modified
// afterwards.
func NewIndex(places []dataset.Place) *Index {
	return &Index{places: places}
}

// Len is the number of indexed places.
func (ix *Index) Len() int { return len(ix.places) }

// Search returns one Code per distinct code at the category whose code or
// name equals term, ignoring case. Postcodes also ignore whitespace. No
// match yields an empty slice.
func (ix *Index) Search(c Category, term string) []Code {
	out := make([]Code, 0)

	term = strings.TrimSpace(term)
	if term == "" {
		return out
	}
	if c == CategoryPostcode {
		term = dataset.TrimPostcode(term)
	}

	seen := make(map[string]struct{})
	for i := range ix.places {
		p := &ix.places[i]
		code, name := level(p, c)
		if code == "" {
			continue
		}
		if !strings.EqualFold(code, term) && (c == CategoryPostcode || !strings.EqualFold(name, term)) {
			continue
		}

		key := strings.ToUpper(code)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, newCode(canonical(*p, c)))
	}

	return out
}
