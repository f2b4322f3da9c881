// Package consensus mirrors, for observability, the ledger's tally of oracle
// reports per flight. The ledger stays the authority on the final status.
package consensus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

const DefaultMinResponses = 3

// Tally is what the relay has observed about one flight.
type Tally struct {
	Flight      types.FlightKey          `json:"flight"`
	Indexes     []int                    `json:"indexes"`
	Votes       map[types.StatusCode]int `json:"votes"`
	Final       *types.StatusCode        `json:"final,omitempty"`
	OpenedAt    time.Time                `json:"openedAt"`
	FinalizedAt time.Time                `json:"finalizedAt,omitempty"`
}

func (t *Tally) clone() Tally {
	c := *t
	c.Indexes = append([]int(nil), t.Indexes...)
	c.Votes = make(map[types.StatusCode]int, len(t.Votes))
	for k, v := range t.Votes {
		c.Votes[k] = v
	}
	if t.Final != nil {
		final := *t.Final
		c.Final = &final
	}
	return c
}

type Tracker struct {
	mu           sync.Mutex
	flights      *lru.Cache[types.FlightKey, *Tally]
	minResponses int
	now          func() time.Time
}

// NewTracker keeps the history flights most recently touched.
func NewTracker(history, minResponses int) (*Tracker, error) {
	if minResponses <= 0 {
		return nil, fmt.Errorf("min responses must be positive, got %d", minResponses)
	}

	cache, err := lru.New[types.FlightKey, *Tally](history)
	if err != nil {
		return nil, fmt.Errorf("failed to create flight history: %w", err)
	}

	return &Tracker{
		flights:      cache,
		minResponses: minResponses,
		now:          time.Now,
	}, nil
}

func (t *Tracker) tally(key types.FlightKey) *Tally {
	if tally, ok := t.flights.Get(key); ok {
		return tally
	}

	tally := &Tally{
		Flight:   key,
		Votes:    make(map[types.StatusCode]int),
		OpenedAt: t.now(),
	}
	t.flights.Add(key, tally)

	return tally
}

// Open records an oracle request for a flight.
func (t *Tracker) Open(req types.StatusRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := req.Key().FlightKey
	tally := t.tally(key)
	for _, idx := range tally.Indexes {
		if idx == int(req.Index) {
			return
		}
	}
	tally.Indexes = append(tally.Indexes, int(req.Index))
}

// Observe counts one accepted oracle report.
func (t *Tracker) Observe(key types.FlightKey, code types.StatusCode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tally := t.tally(key)
	tally.Votes[code]++

	if tally.Final == nil && tally.Votes[code] == t.minResponses {
		log.Infof("flight %s reached %d matching reports for %s", key, t.minResponses, code)
	}
}

// Finalize records the status the ledger settled on.
func (t *Tracker) Finalize(key types.FlightKey, code types.StatusCode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tally := t.tally(key)
	if tally.Final != nil {
		return
	}
	tally.Final = &code
	tally.FinalizedAt = t.now()

	if code.Payable() {
		log.Infof("flight %s finalized as %s, insurance is payable", key, code)
	} else {
		log.Infof("flight %s finalized as %s", key, code)
	}
}

// Leading returns the code with the most reports for key and whether it has
// reached the quorum. Ties go to the lower code.
func (t *Tracker) Leading(key types.FlightKey) (types.StatusCode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tally, ok := t.flights.Peek(key)
	if !ok {
		return types.StatusUnknown, false
	}

	leader, most := types.StatusUnknown, 0
	for _, code := range types.AllStatusCodes {
		if most < tally.Votes[code] {
			leader, most = code, tally.Votes[code]
		}
	}

	return leader, t.minResponses <= most
}

func (t *Tracker) Get(key types.FlightKey) (Tally, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tally, ok := t.flights.Peek(key)
	if !ok {
		return Tally{}, false
	}

	return tally.clone(), true
}

// Flights returns every tracked flight, oldest request first.
func (t *Tracker) Flights() []Tally {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Tally, 0, t.flights.Len())
	for _, key := range t.flights.Keys() {
		if tally, ok := t.flights.Peek(key); ok {
			out = append(out, tally.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })

	return out
}

// Pending returns the flights that never reached a final status. Such
// requests are normal and never an error.
func (t *Tracker) Pending() []Tally {
	out := []Tally{}
	for _, tally := range t.Flights() {
		if tally.Final == nil {
			out = append(out, tally)
		}
	}

	return out
}

// HandleEvent feeds request, report and status events into the tracker.
func (t *Tracker) HandleEvent(_ context.Context, ev types.Event) {
	switch e := ev.(type) {
	case types.OracleRequestEvent:
		t.Open(e.Request())
	case types.OracleReportEvent:
		t.Observe(e.FlightKey(), e.Status)
	case types.FlightStatusEvent:
		t.Finalize(e.FlightKey(), e.Status)
	}
}
