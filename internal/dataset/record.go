package dataset

import "time"

// Record is one area's metrics on one day. Records are immutable once a
// snapshot has been built from them.
type Record struct {
	AreaType string
	AreaCode string
	AreaName string
	Date     time.Time
	Metrics  map[string]Value
}

// Field resolves an identity field or a metric by canonical name.
// Metrics the record does not carry are null.
func (r *Record) Field(name string) Value {
	switch name {
	case FieldAreaType:
		return StringValue(r.AreaType)
	case FieldAreaCode:
		return StringValue(r.AreaCode)
	case FieldAreaName:
		return StringValue(r.AreaName)
	case FieldDate:
		return Value{kind: KindDate, t: r.Date}
	default:
		return r.Metrics[name]
	}
}

// SameArea reports whether both records belong to one time series.
func (r *Record) SameArea(o *Record) bool {
	return r.AreaType == o.AreaType && r.AreaCode == o.AreaCode
}

// Place is one postcode and the administrative hierarchy it sits in.
type Place struct {
	Postcode        string
	TrimmedPostcode string
	Longitude       float64
	Latitude        float64

	Lsoa          string
	LsoaName      string
	Msoa          string
	MsoaName      string
	Ltla          string
	LtlaName      string
	Utla          string
	UtlaName      string
	Region        string
	RegionName    string
	Nation        string
	NationName    string
	NhsTrust      string
	NhsTrustName  string
	NhsRegion     string
	NhsRegionName string
}
