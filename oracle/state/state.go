// Package state holds the relay's shared mutable state: the oracle roster and
// the sets used to suppress duplicate work.
package state

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/GPTx-global/flightsurety/oracle/types"
)

// RelayState is created once by the daemon and handed to the registry, the
// subscription layer and the coordinator.
type RelayState struct {
	mu      sync.RWMutex
	roster  []common.Address
	oracles cmap.ConcurrentMap[string, types.Oracle]

	submitted cmap.ConcurrentMap[string, struct{}]
	seenLogs  cmap.ConcurrentMap[string, struct{}]
}

func New() *RelayState {
	return &RelayState{
		oracles:   cmap.New[types.Oracle](),
		submitted: cmap.New[struct{}](),
		seenLogs:  cmap.New[struct{}](),
	}
}

// AddOracle appends oracle to the roster. It returns false if the address is
// already known; the roster never holds an address twice.
func (s *RelayState) AddOracle(oracle types.Oracle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.oracles.SetIfAbsent(oracle.Address.Hex(), oracle) {
		return false
	}
	s.roster = append(s.roster, oracle.Address)

	return true
}

func (s *RelayState) Oracle(address common.Address) (types.Oracle, bool) {
	return s.oracles.Get(address.Hex())
}

// Roster returns the registered oracles in registration order.
func (s *RelayState) Roster() []types.Oracle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Oracle, 0, len(s.roster))
	for _, addr := range s.roster {
		if oracle, ok := s.oracles.Get(addr.Hex()); ok {
			out = append(out, oracle)
		}
	}

	return out
}

func (s *RelayState) RosterSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.roster)
}

// MarkSubmitted records that oracle has answered key. It returns false if the
// pair was already recorded.
func (s *RelayState) MarkSubmitted(oracle common.Address, key types.RequestKey) bool {
	return s.submitted.SetIfAbsent(submissionKey(oracle, key), struct{}{})
}

func (s *RelayState) Submitted(oracle common.Address, key types.RequestKey) bool {
	return s.submitted.Has(submissionKey(oracle, key))
}

func (s *RelayState) SubmittedCount() int {
	return s.submitted.Count()
}

// MarkSeen records a delivered log. It returns false for a redelivery.
func (s *RelayState) MarkSeen(meta types.LogMeta) bool {
	return s.seenLogs.SetIfAbsent(meta.ID(), struct{}{})
}

func submissionKey(oracle common.Address, key types.RequestKey) string {
	return oracle.Hex() + "|" + key.String()
}
