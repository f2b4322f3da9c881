// Package daemon wires the relay together: ledger connection, oracle roster,
// event subscriptions, response submission and the HTTP surface.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/armon/go-metrics"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/GPTx-global/flightsurety/oracle/api"
	"github.com/GPTx-global/flightsurety/oracle/config"
	"github.com/GPTx-global/flightsurety/oracle/consensus"
	"github.com/GPTx-global/flightsurety/oracle/contracts"
	"github.com/GPTx-global/flightsurety/oracle/coordinator"
	"github.com/GPTx-global/flightsurety/oracle/health"
	"github.com/GPTx-global/flightsurety/oracle/ledger"
	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/registry"
	"github.com/GPTx-global/flightsurety/oracle/retry"
	"github.com/GPTx-global/flightsurety/oracle/state"
	"github.com/GPTx-global/flightsurety/oracle/store"
	"github.com/GPTx-global/flightsurety/oracle/submitter"
	"github.com/GPTx-global/flightsurety/oracle/subscribe"
	"github.com/GPTx-global/flightsurety/oracle/surety"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

const (
	metricsInterval  = 10 * time.Second
	metricsRetention = time.Minute

	// after ledgerFailures failed probes the ledger is not probed again for
	// ledgerBackoff
	ledgerFailures = 3
	ledgerBackoff  = time.Minute

	// how long Stop lets unmined submissions run before cancelling them
	submissionGrace = 10 * time.Second
)

type Daemon struct {
	cfg *config.Config

	transport ledger.Transport
	client    *ledger.Client
	app       *surety.App
	data      *surety.Data

	state         *state.RelayState
	registry      *registry.Registry
	store         *store.Store
	submitter     *submitter.Submitter
	coordinator   *coordinator.Coordinator
	tracker       *consensus.Tracker
	subscriptions *subscribe.Manager
	checker       *health.Checker
	hub           *api.Hub
	api           *api.Server
	sink          *metrics.InmemSink

	oracles int
	grace   time.Duration
}

// New dials the configured ledger, waiting for it to come up, and builds the
// daemon on top of it.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	var transport ledger.Transport
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		transport, err = ledger.Dial(ctx, cfg.Chain.Endpoint)
		return err
	}, retry.DefaultIsRetryable)
	if err != nil {
		return nil, err
	}

	d, err := NewWithTransport(cfg, transport)
	if err != nil {
		transport.Close()
		return nil, err
	}

	return d, nil
}

// NewWithTransport builds every component over an existing transport.
func NewWithTransport(cfg *config.Config, transport ledger.Transport) (*Daemon, error) {
	d := &Daemon{
		cfg:       cfg,
		transport: transport,
		state:     state.New(),
		grace:     submissionGrace,
	}

	d.sink = metrics.NewInmemSink(metricsInterval, metricsRetention)
	metricsCfg := metrics.DefaultConfig("")
	metricsCfg.EnableHostname = false
	metricsCfg.EnableRuntimeMetrics = false
	if _, err := metrics.NewGlobal(metricsCfg, d.sink); err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	d.client = ledger.NewClient(transport, ledger.WithReceiptPollInterval(cfg.Chain.PollInterval()))
	d.app = surety.NewApp(d.client, cfg.Chain.App(), cfg.Chain.GasLimit, cfg.Chain.OracleGasLimit)
	d.data = surety.NewData(d.client, cfg.Chain.Data(), cfg.Chain.GasLimit)
	d.registry = registry.New(d.app, d.state)

	var err error
	if d.store, err = store.Open(cfg.Store.Dir); err != nil {
		return nil, err
	}

	generator, err := coordinator.NewStatusGenerator(
		types.StatusCode(cfg.Oracles.DesiredCode), cfg.Oracles.ErrorProbability, cfg.Oracles.Seed)
	if err != nil {
		d.store.Close()
		return nil, err
	}

	if d.tracker, err = consensus.NewTracker(cfg.Consensus.History, cfg.Consensus.MinResponses); err != nil {
		d.store.Close()
		return nil, err
	}

	if err := d.restore(); err != nil {
		d.store.Close()
		return nil, err
	}

	d.submitter = submitter.New(d.app, d.store)
	d.coordinator = coordinator.New(d.state, d.registry, d.submitter, generator)
	d.subscriptions = subscribe.NewManager(transport, d.state,
		subscribe.WithCursorStore(d.store),
		subscribe.WithQueueSize(cfg.Events.QueueSize),
	)

	breaker := retry.NewCircuitBreaker(ledgerFailures, ledgerBackoff)
	d.checker = health.NewChecker(cfg.Health.Every())
	d.checker.AddCheck(health.NewFuncCheck("ledger", func(ctx context.Context) error {
		return breaker.Execute(func() error {
			_, err := d.client.BlockNumber(ctx)
			return err
		})
	}))
	d.checker.AddCheck(health.NewFuncCheck("subscriptions", func(context.Context) error {
		return d.subscriptions.Healthy()
	}))

	d.hub = api.NewHub()
	if cfg.API.Enabled {
		d.api = api.NewServer(cfg.API.Listen, cfg.API.AllowedOrigins, api.Deps{
			Roster:  d.state,
			Tracker: d.tracker,
			Flights: d.app,
			Journal: d.store,
			Health:  d.checker,
			Metrics: d.sink,
			Hub:     d.hub,
		})
	}

	return d, nil
}

// restore marks every journalled response with a final outcome as submitted,
// so a replayed request is not answered twice by the same oracle. Responses
// that failed in transit may be sent again.
func (d *Daemon) restore() error {
	subs, err := d.store.Submissions(0)
	if err != nil {
		return err
	}

	restored := 0
	for _, sub := range subs {
		if !sub.Final() {
			continue
		}
		if d.state.MarkSubmitted(sub.Oracle, sub.Request) {
			restored++
		}
	}
	if restored > 0 {
		log.Infof("restored %d answered requests from the journal", restored)
	}

	return nil
}

func (d *Daemon) State() *state.RelayState { return d.state }

func (d *Daemon) Tracker() *consensus.Tracker { return d.tracker }

func (d *Daemon) Store() *store.Store { return d.store }

func (d *Daemon) Checker() *health.Checker { return d.checker }

// Oracles is how many oracles the daemon answers for.
func (d *Daemon) Oracles() int { return d.oracles }

// Start prepares the ledger, registers the oracles and opens the event
// subscriptions. Failing to authorize the app contract or to subscribe is
// fatal; bootstrap and single registration failures are not.
func (d *Daemon) Start(ctx context.Context) error {
	accounts, err := d.client.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if err := d.authorize(ctx, accounts); err != nil {
		return err
	}

	if d.cfg.Bootstrap.Enabled {
		d.bootstrap(ctx, accounts)
	}

	d.oracles = d.registry.RegisterAll(ctx, d.identities(accounts), d.cfg.Oracles.Adopt)
	log.Infof("******  Using %d oracles", d.oracles)

	if err := d.watch(); err != nil {
		return err
	}

	if err := d.subscriptions.Start(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}

func (d *Daemon) authorize(ctx context.Context, accounts []common.Address) error {
	owner := d.cfg.Chain.OwnerAccount
	if len(accounts) <= owner {
		return fmt.Errorf("owner account %d not available, ledger has %d accounts", owner, len(accounts))
	}

	log.Infof("Authorizing...")
	if _, err := d.data.AuthorizeAppContract(ctx, accounts[owner], d.app.Address()); err != nil {
		return fmt.Errorf("failed to authorize app contract: %w", err)
	}
	log.Infof("App contract %s is now authorized", d.app.Address().Hex())

	return nil
}

// bootstrap funds the configured airline and registers its flights.
func (d *Daemon) bootstrap(ctx context.Context, accounts []common.Address) {
	idx := d.cfg.Bootstrap.AirlineAccount
	if len(accounts) <= idx {
		log.Errorf("bootstrap airline account %d not available, ledger has %d accounts", idx, len(accounts))
		return
	}
	airline := accounts[idx]

	fee, err := d.app.AirlineRegistrationFee(ctx)
	if err != nil {
		log.Errorf("failed to read airline registration fee: %v", err)
		return
	}

	if _, err := d.app.FundAirline(ctx, airline, fee); err != nil {
		log.Errorf("failed to fund airline %s: %v", airline.Hex(), err)
	} else {
		log.Infof("Airline %s is now funded", airline.Hex())
	}

	for _, f := range d.cfg.Bootstrap.Flights {
		ts, err := f.Timestamp()
		if err != nil {
			log.Errorf("%v", err)
			continue
		}

		flight := types.FlightKey{Airline: airline, Flight: f.Flight, Timestamp: ts}
		if _, err := d.app.RegisterFlight(ctx, flight); err != nil {
			log.Errorf("airline %s failed to register flight %s: %v", airline.Hex(), f.Flight, err)
			continue
		}
		log.Infof("Flight %s is now registered", flight)
	}
}

// identities returns the oracle accounts, fewer than configured when the
// ledger does not have enough.
func (d *Daemon) identities(accounts []common.Address) []common.Address {
	first, count := d.cfg.Oracles.FirstAccount, d.cfg.Oracles.Count

	available := len(accounts) - first
	if available < 0 {
		available = 0
	}
	if available < count {
		log.Warnf("WARNING: Using only %d oracles", available)
		count = available
	}
	if count == 0 {
		return nil
	}

	return accounts[first : first+count]
}

func (d *Daemon) watch() error {
	for _, kind := range types.AllEventKinds() {
		source, _, err := contracts.EventSource(kind)
		if err != nil {
			return err
		}

		address := d.cfg.Chain.App()
		if source == contracts.Data {
			address = d.cfg.Chain.Data()
		}

		var from *big.Int
		if kind == types.EventOracleRequest && d.cfg.Events.RequestFromBlock != config.LatestBlock {
			from = big.NewInt(d.cfg.Events.RequestFromBlock)
		}

		if err := d.subscriptions.Watch(kind, address, from); err != nil {
			return err
		}

		if err := d.subscriptions.Subscribe(kind, nil, subscribe.LogEvent); err != nil {
			return err
		}
		if err := d.subscriptions.Subscribe(kind, nil, d.hub.HandleEvent); err != nil {
			return err
		}
	}

	if err := d.subscriptions.Subscribe(types.EventOracleRequest, nil, d.coordinator.HandleEvent); err != nil {
		return err
	}

	for _, kind := range []types.EventKind{
		types.EventOracleRequest,
		types.EventOracleReport,
		types.EventFlightStatusInfo,
		types.EventFlightStatusUpdated,
	} {
		if err := d.subscriptions.Subscribe(kind, nil, d.tracker.HandleEvent); err != nil {
			return err
		}
	}

	return nil
}

// Run blocks until ctx is done or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.subscriptions.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	for _, kind := range d.subscriptions.Kinds() {
		errs := d.subscriptions.Errors(kind)
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case err := <-errs:
					log.Errorf("%v", err)
				}
			}
		})
	}

	g.Go(func() error {
		d.checker.Start(gctx)
		return nil
	})

	if d.api != nil {
		g.Go(func() error {
			return d.api.Start(gctx)
		})
	}

	return g.Wait()
}

// Stop stops new submissions, gives the ones in flight a grace period and
// releases the store and the ledger connection. The context given to Start
// must be done first so that the subscriptions have closed.
func (d *Daemon) Stop() {
	d.coordinator.Stop()
	d.subscriptions.Wait()
	d.coordinator.Shutdown(d.grace)

	if d.api != nil {
		if err := d.api.Shutdown(); err != nil {
			log.Warnf("failed to shut down API: %v", err)
		}
	}
	d.hub.Close()

	if err := d.store.Close(); err != nil {
		log.Warnf("failed to close store: %v", err)
	}
	d.transport.Close()
}
