package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/flightsurety/oracle/state"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

type stateIndexes struct {
	state *state.RelayState
}

func (s stateIndexes) Indexes(_ context.Context, identity common.Address) (types.IndexSet, error) {
	o, ok := s.state.Oracle(identity)
	if !ok {
		return types.IndexSet{}, errorsmod.Wrap(types.ErrUnknownOracle, identity.Hex())
	}
	return o.Indexes, nil
}

type recordingSubmitter struct {
	mu     sync.Mutex
	fail   map[common.Address]bool
	called []types.OracleResponse
}

func (r *recordingSubmitter) Submit(_ context.Context, resp types.OracleResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.called = append(r.called, resp)
	if r.fail[resp.Oracle] {
		return errorsmod.Wrap(types.ErrRejectedByLedger, "Index does not match oracle request")
	}
	return nil
}

func (r *recordingSubmitter) oracles() map[common.Address]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[common.Address]int)
	for _, resp := range r.called {
		out[resp.Oracle]++
	}
	return out
}

type CoordinatorTestSuite struct {
	suite.Suite

	state       *state.RelayState
	submitter   *recordingSubmitter
	coordinator *Coordinator
	request     types.StatusRequest
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func (suite *CoordinatorTestSuite) SetupTest() {
	suite.state = state.New()
	suite.submitter = &recordingSubmitter{fail: make(map[common.Address]bool)}

	g, err := NewStatusGenerator(types.StatusLateAirline, 0, 1)
	suite.Require().NoError(err)
	suite.coordinator = New(suite.state, stateIndexes{suite.state}, suite.submitter, g)

	suite.request = types.StatusRequest{
		Index:     4,
		Airline:   common.HexToAddress("0x1"),
		Flight:    "1234",
		Timestamp: 1637323200,
	}
}

func (suite *CoordinatorTestSuite) addOracle(hex string, indexes types.IndexSet) common.Address {
	addr := common.HexToAddress(hex)
	suite.Require().True(suite.state.AddOracle(types.Oracle{Address: addr, Indexes: indexes}))
	return addr
}

func (suite *CoordinatorTestSuite) TestOnlyMatchingOraclesSubmit() {
	a := suite.addOracle("0x21", types.IndexSet{1, 4, 7})
	suite.addOracle("0x22", types.IndexSet{0, 2, 3})
	c := suite.addOracle("0x23", types.IndexSet{4, 5, 6})

	n := suite.coordinator.HandleRequest(context.Background(), suite.request)
	suite.coordinator.Wait()

	suite.Equal(2, n)
	suite.Equal(map[common.Address]int{a: 1, c: 1}, suite.submitter.oracles())
	for _, resp := range suite.submitter.called {
		suite.Equal(types.StatusLateAirline, resp.StatusCode)
		suite.Equal(uint8(4), resp.Index)
		suite.Equal("1234", resp.Flight)
	}
}

func (suite *CoordinatorTestSuite) TestZeroMatches() {
	suite.addOracle("0x21", types.IndexSet{0, 1, 2})

	n := suite.coordinator.HandleRequest(context.Background(), suite.request)
	suite.coordinator.Wait()

	suite.Zero(n)
	suite.Empty(suite.submitter.called)

	n = suite.coordinator.HandleRequest(context.Background(), suite.request)
	suite.Zero(n, "an empty roster is not an error either")
}

func (suite *CoordinatorTestSuite) TestDuplicateRequestDoesNotResubmit() {
	suite.addOracle("0x21", types.IndexSet{1, 4, 7})
	suite.addOracle("0x22", types.IndexSet{4, 8, 9})

	suite.Equal(2, suite.coordinator.HandleRequest(context.Background(), suite.request))
	suite.Equal(0, suite.coordinator.HandleRequest(context.Background(), suite.request))
	suite.coordinator.Wait()

	suite.Len(suite.submitter.called, 2)

	next := suite.request
	next.Timestamp++
	suite.Equal(2, suite.coordinator.HandleRequest(context.Background(), next))
	suite.coordinator.Wait()
	suite.Len(suite.submitter.called, 4)
}

func (suite *CoordinatorTestSuite) TestRejectionIsIsolated() {
	a := suite.addOracle("0x21", types.IndexSet{1, 4, 7})
	b := suite.addOracle("0x22", types.IndexSet{4, 8, 9})
	c := suite.addOracle("0x23", types.IndexSet{3, 4, 5})
	suite.submitter.fail[a] = true

	suite.Equal(3, suite.coordinator.HandleRequest(context.Background(), suite.request))
	suite.coordinator.Wait()

	suite.Equal(map[common.Address]int{a: 1, b: 1, c: 1}, suite.submitter.oracles())

	suite.Equal(0, suite.coordinator.HandleRequest(context.Background(), suite.request),
		"a rejected pair is terminal and never retried")
}

func (suite *CoordinatorTestSuite) TestUnknownOracleIsSkipped() {
	good := suite.addOracle("0x21", types.IndexSet{1, 4, 7})
	coordinator := New(suite.state, failingIndexes{good}, suite.submitter, suite.coordinator.generator)
	suite.addOracle("0x22", types.IndexSet{4, 8, 9})

	suite.Equal(1, coordinator.HandleRequest(context.Background(), suite.request))
	coordinator.Wait()
	suite.Equal(map[common.Address]int{good: 1}, suite.submitter.oracles())
}

func (suite *CoordinatorTestSuite) TestStoppedCoordinatorIgnoresRequests() {
	suite.addOracle("0x21", types.IndexSet{1, 4, 7})
	suite.coordinator.Stop()

	suite.Zero(suite.coordinator.HandleRequest(context.Background(), suite.request))
}

func (suite *CoordinatorTestSuite) TestCancelledContextDoesNotAbortSubmissions() {
	suite.addOracle("0x21", types.IndexSet{1, 4, 7})

	ctx, cancel := context.WithCancel(context.Background())
	var seen context.Context
	sub := submitFunc(func(ctx context.Context, _ types.OracleResponse) error {
		seen = ctx
		return nil
	})
	coordinator := New(suite.state, stateIndexes{suite.state}, sub, suite.coordinator.generator)
	cancel()

	suite.Equal(1, coordinator.HandleRequest(ctx, suite.request))
	coordinator.Wait()
	suite.Require().NotNil(seen)
	suite.NoError(seen.Err())
}

func (suite *CoordinatorTestSuite) TestShutdownCancelsStuckSubmissions() {
	suite.addOracle("0x21", types.IndexSet{1, 4, 7})

	started := make(chan struct{})
	sub := submitFunc(func(ctx context.Context, _ types.OracleResponse) error {
		close(started)
		<-ctx.Done()
		return errorsmod.Wrap(types.ErrTransport, ctx.Err().Error())
	})
	coordinator := New(suite.state, stateIndexes{suite.state}, sub, suite.coordinator.generator)

	suite.Equal(1, coordinator.HandleRequest(context.Background(), suite.request))
	<-started

	done := make(chan bool, 1)
	go func() { done <- coordinator.Shutdown(20 * time.Millisecond) }()

	select {
	case drained := <-done:
		suite.False(drained)
	case <-time.After(2 * time.Second):
		suite.FailNow("shutdown did not return")
	}

	suite.Zero(coordinator.HandleRequest(context.Background(), suite.request))
}

func (suite *CoordinatorTestSuite) TestShutdownWaitsForQuickSubmissions() {
	suite.addOracle("0x21", types.IndexSet{1, 4, 7})
	suite.addOracle("0x22", types.IndexSet{4, 8, 9})

	suite.Equal(2, suite.coordinator.HandleRequest(context.Background(), suite.request))
	suite.True(suite.coordinator.Shutdown(time.Second))
	suite.Len(suite.submitter.called, 2)
}

type submitFunc func(ctx context.Context, resp types.OracleResponse) error

func (f submitFunc) Submit(ctx context.Context, resp types.OracleResponse) error {
	return f(ctx, resp)
}

// failingIndexes knows only one oracle.
type failingIndexes struct {
	known common.Address
}

func (f failingIndexes) Indexes(_ context.Context, identity common.Address) (types.IndexSet, error) {
	if identity != f.known {
		return types.IndexSet{}, errorsmod.Wrap(types.ErrUnknownOracle, identity.Hex())
	}
	return types.IndexSet{1, 4, 7}, nil
}
