package coordinator

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/GPTx-global/flightsurety/oracle/types"
)

// StatusGenerator produces the status code an oracle votes with: the desired
// code, or with probability pError a code drawn uniformly from the full set.
type StatusGenerator struct {
	mu      sync.Mutex
	desired types.StatusCode
	pError  float64
	rng     *rand.Rand
}

// NewStatusGenerator validates its inputs. A zero seed seeds from the clock.
func NewStatusGenerator(desired types.StatusCode, pError float64, seed int64) (*StatusGenerator, error) {
	if !desired.Valid() {
		return nil, fmt.Errorf("invalid desired status code %d", uint8(desired))
	}
	if pError < 0 || 1 < pError {
		return nil, fmt.Errorf("error probability must be in [0, 1], got %v", pError)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &StatusGenerator{
		desired: desired,
		pError:  pError,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

func (g *StatusGenerator) Next() types.StatusCode {
	g.mu.Lock()
	defer g.mu.Unlock()

	if 0 < g.pError && g.rng.Float64() < g.pError {
		return types.AllStatusCodes[g.rng.Intn(len(types.AllStatusCodes))]
	}

	return g.desired
}
