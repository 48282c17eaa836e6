package engine

import (
	"encoding/hex"
	"sync"

	"github.com/dgraph-io/ristretto"
	json "github.com/goccy/go-json"
	"github.com/spaolacci/murmur3"

	"github.com/meikuraledutech/flow"
)

// graphCache memoizes indexed graphs keyed by a content hash of the
// snapshot, so re-triggered workflows and resumed executions don't
// rebuild the same index.
type graphCache struct {
	cache *ristretto.Cache
	mu    sync.Mutex
}

func newGraphCache() *graphCache {
	c, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	return &graphCache{cache: c}
}

func (gc *graphCache) get(w *flow.Workflow) *flow.Graph {
	key := snapshotHash(w)

	if v, found := gc.cache.Get(key); found {
		return v.(*flow.Graph)
	}

	// Lock so concurrent executions of the same workflow don't all
	// build the index at once.
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if v, found := gc.cache.Get(key); found {
		return v.(*flow.Graph)
	}

	g := flow.NewGraph(w)
	gc.cache.Set(key, g, 1)
	return g
}

// snapshotHash fingerprints the graph structure. Positional metadata is
// included but harmless: identical content hashes identically.
func snapshotHash(w *flow.Workflow) string {
	raw, _ := json.Marshal(struct {
		Nodes []flow.Node `json:"nodes"`
		Edges []flow.Edge `json:"edges"`
	}{w.Nodes, w.Edges})

	h := murmur3.New128()
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}
