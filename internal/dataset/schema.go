package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Identity fields carried by every record.
const (
	FieldAreaType = "areaType"
	FieldAreaCode = "areaCode"
	FieldAreaName = "areaName"
	FieldDate     = "date"
)

var (
	ErrTypeMismatch  = errors.New("value does not match field type")
	ErrNotFilterable = errors.New("field cannot be filtered")
)

// FieldType is the declared type of a record field.
type FieldType uint8

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeDate
	TypeBool
	TypeList
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeDate:
		return "date"
	case TypeBool:
		return "boolean"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

// Parse decodes the textual form used in filter values.
// Dates accept a YYYY-MM-DD prefix; anything after a 'T' or space is ignored.
func (t FieldType) Parse(raw string) (Value, error) {
	switch t {
	case TypeString:
		return StringValue(raw), nil
	case TypeInt:
		if len(raw) > 15 {
			return Null(), fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, raw)
		}
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Null(), fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, raw)
		}
		return IntValue(i), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Null(), fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, raw)
		}
		return FloatValue(f), nil
	case TypeDate:
		d, err := ParseDate(raw)
		if err != nil {
			return Null(), err
		}
		return DateValue(d), nil
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Null(), fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, raw)
		}
		return BoolValue(b), nil
	default:
		return Null(), ErrNotFilterable
	}
}

// Decode converts a stored JSON payload into a Value of this type.
func (t FieldType) Decode(payload []byte) (Value, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return Null(), nil
	}

	switch t {
	case TypeString:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return Null(), fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return StringValue(s), nil
	case TypeInt, TypeFloat:
		var n json.Number
		if err := json.Unmarshal(payload, &n); err != nil {
			return Null(), fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		if t == TypeInt {
			if i, err := n.Int64(); err == nil {
				return IntValue(i), nil
			}
		}
		f, err := n.Float64()
		if err != nil {
			return Null(), fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		if t == TypeInt {
			return IntValue(int64(f)), nil
		}
		return FloatValue(f), nil
	case TypeDate:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return Null(), fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return t.Parse(s)
	case TypeBool:
		var b bool
		if err := json.Unmarshal(payload, &b); err != nil {
			return Null(), fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		return BoolValue(b), nil
	case TypeList:
		return decodeList(payload)
	default:
		return Null(), ErrTypeMismatch
	}
}

func decodeList(payload []byte) (Value, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Null(), fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}

	items := make([]Object, 0, len(raw))
	for _, item := range raw {
		obj, err := decodeObject(item)
		if err != nil {
			return Null(), err
		}
		items = append(items, obj)
	}

	return ListValue(items), nil
}

// decodeObject keeps key order, which map decoding would lose.
func decodeObject(payload []byte) (Object, error) {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: list items must be objects", ErrTypeMismatch)
	}

	var obj Object
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		key, _ := keyTok.(string)

		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		obj = append(obj, Entry{Key: key, Value: scalarOf(v)})
	}

	return obj, nil
}

func scalarOf(v interface{}) Value {
	switch x := v.(type) {
	case string:
		return StringValue(x)
	case bool:
		return BoolValue(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntValue(i)
		}
		if f, err := x.Float64(); err == nil {
			return FloatValue(f)
		}
		return StringValue(x.String())
	default:
		return Null()
	}
}

// ParseDate reads a YYYY-MM-DD date, ignoring any time part.
func ParseDate(raw string) (time.Time, error) {
	s := raw
	if i := strings.IndexAny(s, "T "); i >= 0 {
		s = s[:i]
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrTypeMismatch, raw)
	}
	return d, nil
}

// Field describes one recognized record field.
type Field struct {
	Name     string
	Type     FieldType
	Identity bool
}

// Schema is the set of recognized record fields. Lookups are case-insensitive.
type Schema struct {
	fields  []Field
	byLower map[string]Field
}

// NewSchema builds a schema from the identity fields plus the given metrics.
func NewSchema(metrics map[string]FieldType) *Schema {
	s := &Schema{byLower: make(map[string]Field, len(metrics)+4)}

	for _, f := range []Field{
		{Name: FieldAreaType, Type: TypeString, Identity: true},
		{Name: FieldAreaCode, Type: TypeString, Identity: true},
		{Name: FieldAreaName, Type: TypeString, Identity: true},
		{Name: FieldDate, Type: TypeDate, Identity: true},
	} {
		s.add(f)
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.add(Field{Name: name, Type: metrics[name]})
	}

	return s
}

func (s *Schema) add(f Field) {
	s.fields = append(s.fields, f)
	s.byLower[strings.ToLower(f.Name)] = f
}

// DefaultSchema covers the published metric catalogue.
func DefaultSchema() *Schema {
	return NewSchema(MetricTypes)
}

// Lookup resolves a field name regardless of case.
func (s *Schema) Lookup(name string) (Field, bool) {
	f, ok := s.byLower[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Fields returns identity fields first, then metrics sorted by name.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the canonical field names.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

var areaTypes = []string{
	"overview",
	"nation",
	"region",
	"nhsRegion",
	"nhsTrust",
	"utla",
	"ltla",
	"msoa",
}

var areaTypeByLower = func() map[string]string {
	m := make(map[string]string, len(areaTypes))
	for _, a := range areaTypes {
		m[strings.ToLower(a)] = a
	}
	return m
}()

// AreaTypes lists the recognized area types.
func AreaTypes() []string {
	out := make([]string, len(areaTypes))
	copy(out, areaTypes)
	return out
}

// CanonicalAreaType maps any casing of an area type to its canonical spelling.
func CanonicalAreaType(s string) (string, bool) {
	a, ok := areaTypeByLower[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// MetricTypes is the metric catalogue served by the API.
var MetricTypes = map[string]FieldType{
	"covidOccupiedMVBeds":                          TypeInt,
	"cumAdmissions":                                TypeInt,
	"cumAdmissionsByAge":                           TypeList,
	"cumCasesByPublishDate":                        TypeInt,
	"cumCasesByPublishDateRate":                    TypeFloat,
	"cumCasesBySpecimenDate":                       TypeInt,
	"cumDeaths28DaysByPublishDate":                 TypeInt,
	"cumDeaths28DaysByPublishDateRate":             TypeFloat,
	"cumOnsDeathsByRegistrationDate":               TypeInt,
	"cumPeopleVaccinatedFirstDoseByPublishDate":    TypeInt,
	"cumPeopleVaccinatedSecondDoseByPublishDate":   TypeInt,
	"cumTestsByPublishDate":                        TypeInt,
	"femaleCases":                                  TypeList,
	"hospitalCases":                                TypeInt,
	"maleCases":                                    TypeList,
	"newAdmissions":                                TypeInt,
	"newAdmissionsChangePercentage":                TypeFloat,
	"newAdmissionsDirection":                       TypeString,
	"newAdmissionsRollingSum":                      TypeInt,
	"newCasesByPublishDate":                        TypeInt,
	"newCasesByPublishDateChange":                  TypeInt,
	"newCasesByPublishDateChangePercentage":        TypeFloat,
	"newCasesByPublishDateDirection":               TypeString,
	"newCasesByPublishDateRollingRate":             TypeFloat,
	"newCasesByPublishDateRollingSum":              TypeInt,
	"newCasesBySpecimenDate":                       TypeInt,
	"newCasesBySpecimenDateAgeDemographics":        TypeList,
	"newCasesBySpecimenDateRollingRate":            TypeFloat,
	"newDeaths28DaysByDeathDateRollingRate":        TypeFloat,
	"newDeaths28DaysByPublishDate":                 TypeInt,
	"newDeaths28DaysByPublishDateDirection":        TypeString,
	"newLFDTests":                                  TypeInt,
	"newOnsDeathsByRegistrationDate":               TypeInt,
	"newPCRTestsByPublishDate":                     TypeInt,
	"newPeopleVaccinatedFirstDoseByPublishDate":    TypeInt,
	"newPeopleVaccinatedSecondDoseByPublishDate":   TypeInt,
	"newTestsByPublishDate":                        TypeInt,
	"newVirusTests":                                TypeInt,
	"plannedCapacityByPublishDate":                 TypeInt,
	"transmissionRateMax":                          TypeFloat,
	"transmissionRateMin":                          TypeFloat,
	"transmissionRateGrowthRateMax":                TypeFloat,
	"transmissionRateGrowthRateMin":                TypeFloat,
	"uniqueCasePositivityBySpecimenDateRollingSum": TypeFloat,
	"vaccinationsPublished":                        TypeBool,
}
