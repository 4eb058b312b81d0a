package core

import (
	"fmt"
	"sync"

	"HouseLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry owns every house aggregate. Houses are independent: the
// registry lock only guards the map, each house serializes its own
// operations behind its own mutex.
type Registry struct {
	mu     sync.RWMutex
	houses map[uuid.UUID]*House

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewRegistry(log zerolog.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		houses:  make(map[uuid.UUID]*House),
		log:     log,
		metrics: metrics,
	}
}

// CreateHouse validates the fee configuration and registers a new
// aggregate at the given epoch. Creating an id twice is rejected so a
// replayed creation command cannot reset a live house.
func (r *Registry) CreateHouse(
	id, adminID, protocolID uuid.UUID,
	targetBalance uint64,
	fees FeeConfig,
	epoch uint64,
) (*House, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.houses[id]; exists {
		return nil, fmt.Errorf("house %s already exists", id)
	}

	house := NewHouse(id, adminID, protocolID, targetBalance, fees, epoch, r.log, r.metrics)
	r.houses[id] = house

	r.log.Info().
		Str("house_id", id.String()).
		Uint64("target_balance", targetBalance).
		Uint64("epoch", epoch).
		Msg("house created")
	if r.metrics != nil {
		r.metrics.Houses.Inc()
	}
	return house, nil
}

func (r *Registry) Get(id uuid.UUID) (*House, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	house, ok := r.houses[id]
	return house, ok
}

// All returns a stable snapshot of the registered houses.
func (r *Registry) All() []*House {
	r.mu.RLock()
	defer r.mu.RUnlock()
	houses := make([]*House, 0, len(r.houses))
	for _, h := range r.houses {
		houses = append(houses, h)
	}
	return houses
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.houses)
}
