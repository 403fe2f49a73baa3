package lookup

import (
	"sync/atomic"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
)

type cachedIndex struct {
	snap  *dataset.Snapshot
	index *Index
}

// Resolver searches the index of the current snapshot, rebuilding it
// when a new snapshot is published.
type Resolver struct {
	accessor dataset.Accessor
	cache    atomic.Pointer[cachedIndex]
}

// NewResolver creates a resolver over accessor.
func NewResolver(accessor dataset.Accessor) *Resolver {
	return &Resolver{accessor: accessor}
}

// Index returns the index of the current snapshot.
func (r *Resolver) Index() (*Index, error) {
	snap, err := r.accessor.Current()
	if err != nil {
		return nil, &query.Error{Kind: query.KindDatasetUnavailable, Message: "The dataset is unavailable.", Err: err}
	}

	if c := r.cache.Load(); c != nil && c.snap == snap {
		return c.index, nil
	}

	c := &cachedIndex{snap: snap, index: NewIndex(snap.Places())}
	r.cache.Store(c)
	return c.index, nil
}

// Search runs Index.Search against the current snapshot.
func (r *Resolver) Search(c Category, term string) ([]Code, error) {
	ix, err := r.Index()
	if err != nil {
		return nil, err
	}
	return ix.Search(c, term), nil
}
