package query

// Config carries the deployment limits the engine enforces. It is passed in
// at construction; the engine reads no global state.
type Config struct {
	// PageSize is the number of records per explicitly requested page.
	PageSize int
	// MaxPageLimit caps the records returned without pagination.
	MaxPageLimit int
	// MaxFilterValues caps the number of values across all filter terms.
	MaxFilterValues int
	// MaxStructureFields caps the metric fields a structure may project.
	MaxStructureFields int
}

// DefaultConfig returns the published API limits.
func DefaultConfig() Config {
	return Config{
		PageSize:           1000,
		MaxPageLimit:       2500,
		MaxFilterValues:    5,
		MaxStructureFields: 8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxPageLimit <= 0 {
		c.MaxPageLimit = d.MaxPageLimit
	}
	if c.PageSize > c.MaxPageLimit {
		c.PageSize = c.MaxPageLimit
	}
	if c.MaxFilterValues <= 0 {
		c.MaxFilterValues = d.MaxFilterValues
	}
	if c.MaxStructureFields <= 0 {
		c.MaxStructureFields = d.MaxStructureFields
	}
	return c
}
