package coordinator_test

import (
	"context"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/GPTx-global/flightsurety/oracle/contracts"
	"github.com/GPTx-global/flightsurety/oracle/coordinator"
	"github.com/GPTx-global/flightsurety/oracle/ledger"
	"github.com/GPTx-global/flightsurety/oracle/ledger/ledgertest"
	"github.com/GPTx-global/flightsurety/oracle/registry"
	"github.com/GPTx-global/flightsurety/oracle/state"
	"github.com/GPTx-global/flightsurety/oracle/submitter"
	"github.com/GPTx-global/flightsurety/oracle/subscribe"
	"github.com/GPTx-global/flightsurety/oracle/surety"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

var appAddress = common.HexToAddress("0xa0")

// fakeApp plays the oracle side of FlightSuretyApp on a ledgertest transport.
type fakeApp struct {
	mu        sync.Mutex
	rng       *rand.Rand
	fee       *big.Int
	preset    map[common.Address]types.IndexSet
	indexes   map[common.Address]types.IndexSet
	reject    map[common.Address]bool
	attempts  []types.OracleResponse
	responses []types.OracleResponse
}

func installFakeApp(t *ledgertest.Transport, seed int64) *fakeApp {
	f := &fakeApp{
		rng:     rand.New(rand.NewSource(seed)),
		fee:     big.NewInt(1e18),
		preset:  make(map[common.Address]types.IndexSet),
		indexes: make(map[common.Address]types.IndexSet),
		reject:  make(map[common.Address]bool),
	}

	t.HandleCall("oracleRegistrationFee", func(common.Address, []any) ([]any, error) {
		return []any{f.fee}, nil
	})
	t.HandleSend("registerOracle", f.register)
	t.HandleCall("getMyIndexes", f.myIndexes)
	t.HandleSend("submitOracleResponse", f.submit)

	return f
}

func (f *fakeApp) randomIndexes() types.IndexSet {
	var set types.IndexSet
	set[0] = uint8(f.rng.Intn(10))
	for set[1] = uint8(f.rng.Intn(10)); set[1] == set[0]; set[1] = uint8(f.rng.Intn(10)) {
	}
	for set[2] = uint8(f.rng.Intn(10)); set[2] == set[0] || set[2] == set[1]; set[2] = uint8(f.rng.Intn(10)) {
	}
	return set
}

func (f *fakeApp) register(from common.Address, value *big.Int, _ []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if value == nil || value.Cmp(f.fee) < 0 {
		return ledgertest.Revert("Registration fee is required")
	}
	if _, ok := f.indexes[from]; ok {
		return ledgertest.Revert("Oracle already registered")
	}

	if set, ok := f.preset[from]; ok {
		f.indexes[from] = set
	} else {
		f.indexes[from] = f.randomIndexes()
	}

	return nil
}

func (f *fakeApp) myIndexes(from common.Address, _ []any) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.indexes[from]
	if !ok {
		return nil, ledgertest.Revert("Not registered as an oracle")
	}

	return []any{[3]uint8(set)}, nil
}

func (f *fakeApp) submit(from common.Address, _ *big.Int, args []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp := types.OracleResponse{
		Index:      args[0].(uint8),
		Airline:    args[1].(common.Address),
		Flight:     args[2].(string),
		Timestamp:  args[3].(*big.Int).Uint64(),
		StatusCode: types.StatusCode(args[4].(uint8)),
		Oracle:     from,
	}
	f.attempts = append(f.attempts, resp)

	if !f.indexes[from].Contains(resp.Index) {
		return ledgertest.Revert("Index does not match oracle request")
	}
	if f.reject[from] {
		return ledgertest.Revert("Flight or timestamp do not match oracle request")
	}
	f.responses = append(f.responses, resp)

	return nil
}

func (f *fakeApp) holders(index uint8) map[common.Address]bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[common.Address]bool)
	for addr, set := range f.indexes {
		if set.Contains(index) {
			out[addr] = true
		}
	}
	return out
}

func (f *fakeApp) accepted() []types.OracleResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]types.OracleResponse(nil), f.responses...)
}

func (f *fakeApp) attempted() []types.OracleResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]types.OracleResponse(nil), f.attempts...)
}

var _ = Describe("Oracle relay", func() {
	const (
		oracleCount = 20
		firstOracle = 20
		timestamp   = uint64(1637323200)
	)

	var (
		ctx         context.Context
		cancel      context.CancelFunc
		accounts    []common.Address
		transport   *ledgertest.Transport
		app         *fakeApp
		relayState  *state.RelayState
		coord       *coordinator.Coordinator
		manager     *subscribe.Manager
		airline     common.Address
		pError      float64
		requestLogs int
	)

	requestLog := func(index uint8, flight string) ethtypes.Log {
		requestLogs++
		l, err := ledgertest.PackLog(contracts.AppABI(), appAddress, "OracleRequest", uint64(100+requestLogs),
			common.BigToHash(big.NewInt(int64(requestLogs))), 0,
			index, airline, flight, new(big.Int).SetUint64(timestamp))
		Expect(err).NotTo(HaveOccurred())
		return l
	}

	BeforeEach(func() {
		pError = 0
	})

	JustBeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		accounts = ledgertest.Accounts(firstOracle + oracleCount)
		airline = accounts[1]
		requestLogs = 0

		transport = ledgertest.NewTransport(accounts, contracts.AppABI(), contracts.DataABI())
		app = installFakeApp(transport, 2021)
		app.preset[accounts[firstOracle]] = types.IndexSet{1, 4, 7}
		app.preset[accounts[firstOracle+1]] = types.IndexSet{0, 2, 3}

		client := ledger.NewClient(transport, ledger.WithReceiptPollInterval(time.Millisecond))
		bindings := surety.NewApp(client, appAddress, 999999999, 9999999)

		relayState = state.New()
		reg := registry.New(bindings, relayState)
		Expect(reg.RegisterAll(ctx, accounts[firstOracle:], false)).To(Equal(oracleCount))

		generator, err := coordinator.NewStatusGenerator(types.StatusLateAirline, pError, 99)
		Expect(err).NotTo(HaveOccurred())
		coord = coordinator.New(relayState, reg, submitter.New(bindings, nil), generator)

		manager = subscribe.NewManager(transport, relayState)
		Expect(manager.Watch(types.EventOracleRequest, appAddress, big.NewInt(0))).To(Succeed())
		Expect(manager.Subscribe(types.EventOracleRequest, nil, coord.HandleEvent)).To(Succeed())
		Expect(manager.Start(ctx)).To(Succeed())
		go manager.Run(ctx)
	})

	AfterEach(func() {
		cancel()
		manager.Wait()
		coord.Wait()
	})

	It("registers every oracle with three distinct indexes from 0 to 9", func() {
		roster := relayState.Roster()
		Expect(roster).To(HaveLen(oracleCount))
		for i, oracle := range roster {
			Expect(oracle.Address).To(Equal(accounts[firstOracle+i]))
			Expect(oracle.Indexes[0]).NotTo(Equal(oracle.Indexes[1]))
			Expect(oracle.Indexes[1]).NotTo(Equal(oracle.Indexes[2]))
			Expect(oracle.Indexes[0]).NotTo(Equal(oracle.Indexes[2]))
			for _, idx := range oracle.Indexes {
				Expect(idx).To(BeNumerically("<=", types.MaxIndex))
			}
		}
	})

	It("submits once from exactly the oracles holding the request index", func() {
		holders := app.holders(4)
		Expect(holders).NotTo(BeEmpty())
		Expect(len(holders)).To(BeNumerically("<", oracleCount))

		transport.Emit(requestLog(4, "1234"))

		Eventually(func() int { return len(app.attempted()) }).
			WithTimeout(2 * time.Second).Should(Equal(len(holders)))
		Consistently(func() int { return len(app.attempted()) }).
			WithTimeout(100 * time.Millisecond).Should(Equal(len(holders)))

		seen := make(map[common.Address]bool)
		for _, resp := range app.attempted() {
			Expect(holders).To(HaveKey(resp.Oracle))
			Expect(seen).NotTo(HaveKey(resp.Oracle))
			seen[resp.Oracle] = true

			Expect(resp.Index).To(Equal(uint8(4)))
			Expect(resp.Flight).To(Equal("1234"))
			Expect(resp.Airline).To(Equal(airline))
			Expect(resp.Timestamp).To(Equal(timestamp))
		}
		Expect(app.accepted()).To(HaveLen(len(holders)))
	})

	It("votes the desired code when no error is configured", func() {
		transport.Emit(requestLog(4, "1234"))

		Eventually(func() int { return len(app.accepted()) }).
			WithTimeout(2 * time.Second).Should(Equal(len(app.holders(4))))
		for _, resp := range app.accepted() {
			Expect(resp.StatusCode).To(Equal(types.StatusLateAirline))
		}
	})

	It("does not double submit when the request is delivered again", func() {
		first := requestLog(4, "1234")
		transport.Emit(first)
		transport.Emit(first)

		replay := requestLog(4, "1234")
		transport.Emit(replay)

		expected := len(app.holders(4))
		Eventually(func() int { return len(app.attempted()) }).
			WithTimeout(2 * time.Second).Should(Equal(expected))
		Consistently(func() int { return len(app.attempted()) }).
			WithTimeout(150 * time.Millisecond).Should(Equal(expected))
	})

	It("keeps submitting for the other oracles when one is rejected", func() {
		holders := app.holders(4)
		app.reject[accounts[firstOracle]] = true

		transport.Emit(requestLog(4, "1234"))

		Eventually(func() int { return len(app.attempted()) }).
			WithTimeout(2 * time.Second).Should(Equal(len(holders)))
		Eventually(func() int { return len(app.accepted()) }).
			WithTimeout(2 * time.Second).Should(Equal(len(holders) - 1))
	})

	It("answers each flight of a series of requests independently", func() {
		transport.Emit(requestLog(4, "523"))
		transport.Emit(requestLog(4, "8001"))

		Eventually(func() int { return len(app.accepted()) }).
			WithTimeout(2 * time.Second).Should(Equal(2 * len(app.holders(4))))
	})

	Context("with noisy oracles", func() {
		BeforeEach(func() {
			pError = 1
		})

		It("only ever votes codes from the closed set", func() {
			transport.Emit(requestLog(4, "1234"))

			Eventually(func() int { return len(app.accepted()) }).
				WithTimeout(2 * time.Second).Should(Equal(len(app.holders(4))))
			for _, resp := range app.accepted() {
				Expect(resp.StatusCode.Valid()).To(BeTrue())
			}
		})
	})
})
