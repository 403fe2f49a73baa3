package query

// RequestPayload echoes the resolved request back to the client.
type RequestPayload struct {
	Structure Structure    `json:"structure"`
	Filters   []FilterEcho `json:"filters"`
	Page      *int         `json:"page"`
	LatestBy  string       `json:"latestBy,omitempty"`
}

// Envelope is the response body of a data query.
type Envelope struct {
	Length         int            `json:"length"`
	MaxPageLimit   int            `json:"maxPageLimit"`
	TotalRecords   int            `json:"totalRecords"`
	Data           []Row          `json:"data"`
	RequestPayload RequestPayload `json:"requestPayload"`
	Pagination     *Pagination    `json:"pagination,omitempty"`
}

// NewEnvelope assembles the response for a page. links is nil for
// unpaginated responses.
func NewEnvelope(req Request, pageParam *int, pg Page, links *Pagination, cfg Config) *Envelope {
	cfg = cfg.withDefaults()

	data := pg.Rows
	if data == nil {
		data = []Row{}
	}

	structure := req.Structure
	if structure.Fields == nil {
		structure = DefaultStructure()
	}

	return &Envelope{
		Length:       len(data),
		MaxPageLimit: cfg.MaxPageLimit,
		TotalRecords: pg.TotalRecords,
		Data:         data,
		RequestPayload: RequestPayload{
			Structure: structure,
			Filters:   req.Filters.Echo(),
			Page:      pageParam,
			LatestBy:  req.LatestBy.String(),
		},
		Pagination: links,
	}
}
