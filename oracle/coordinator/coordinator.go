// Package coordinator answers oracle requests on behalf of every registered
// oracle whose index set matches the request.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"
	"github.com/ethereum/go-ethereum/common"

	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/state"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

// IndexSource resolves the index set of a registered oracle.
type IndexSource interface {
	Indexes(ctx context.Context, identity common.Address) (types.IndexSet, error)
}

// Submitter sends one response to the ledger.
type Submitter interface {
	Submit(ctx context.Context, resp types.OracleResponse) error
}

type Coordinator struct {
	state     *state.RelayState
	indexes   IndexSource
	submitter Submitter
	generator *StatusGenerator

	// submissions outlive the request's context but not Shutdown
	ctx    context.Context
	cancel context.CancelFunc

	stopped  atomic.Bool
	inflight sync.WaitGroup
}

func New(s *state.RelayState, indexes IndexSource, submitter Submitter, generator *StatusGenerator) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		state:     s,
		indexes:   indexes,
		submitter: submitter,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// HandleEvent adapts HandleRequest to the subscription handler signature.
func (c *Coordinator) HandleEvent(ctx context.Context, ev types.Event) {
	req, ok := ev.(types.OracleRequestEvent)
	if !ok {
		return
	}

	log.Infof("oracle request %s in block %d", req.Request().Key(), req.BlockNumber)
	c.HandleRequest(ctx, req.Request())
}

// HandleRequest dispatches one response per roster oracle holding req.Index
// and returns how many were dispatched. Submissions run concurrently and are
// not awaited; each failure is logged on its own.
func (c *Coordinator) HandleRequest(ctx context.Context, req types.StatusRequest) int {
	if c.stopped.Load() {
		log.Debugf("coordinator stopped, ignoring request %s", req.Key())
		return 0
	}

	key := req.Key()
	dispatched := 0

	for _, oracle := range c.state.Roster() {
		indexes, err := c.indexes.Indexes(ctx, oracle.Address)
		if err != nil {
			log.Errorf("!!! cannot resolve indexes of oracle %s: %v", oracle.Address.Hex(), err)
			continue
		}
		if !indexes.Contains(req.Index) {
			continue
		}

		if !c.state.MarkSubmitted(oracle.Address, key) {
			log.Debugf("oracle %s already answered %s", oracle.Address.Hex(), key)
			metrics.IncrCounter([]string{"relay", "submit", "duplicate"}, 1)
			continue
		}

		resp := types.OracleResponse{
			Index:      req.Index,
			Airline:    req.Airline,
			Flight:     req.Flight,
			Timestamp:  req.Timestamp,
			StatusCode: c.generator.Next(),
			Oracle:     oracle.Address,
		}
		log.Infof("Oracle at %s gives statusCode: %d", resp.Oracle.Hex(), resp.StatusCode)

		c.inflight.Add(1)
		go c.submit(c.ctx, resp)
		dispatched++
	}

	if dispatched == 0 {
		log.Debugf("no oracle holds index %d for %s", req.Index, key)
	}

	return dispatched
}

func (c *Coordinator) submit(ctx context.Context, resp types.OracleResponse) {
	defer c.inflight.Done()

	err := c.submitter.Submit(ctx, resp)
	switch {
	case err == nil:
		log.Debugf("oracle %s answered %s", resp.Oracle.Hex(), resp.Key())
	case errors.Is(err, types.ErrRejectedByLedger):
		log.Warnf("response of oracle %s to %s rejected: %v", resp.Oracle.Hex(), resp.Key(), err)
	default:
		log.Errorf("response of oracle %s to %s failed: %v", resp.Oracle.Hex(), resp.Key(), err)
	}
}

// Stop makes the coordinator ignore further requests. In-flight submissions
// are left to finish.
func (c *Coordinator) Stop() {
	c.stopped.Store(true)
}

// Wait blocks until every dispatched submission has returned.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// Shutdown stops the coordinator and gives in-flight submissions grace to
// finish. Whatever is still running afterwards is cancelled. It reports
// whether everything finished within grace.
func (c *Coordinator) Shutdown(grace time.Duration) bool {
	c.Stop()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		c.cancel()
		return true
	case <-timer.C:
	}

	log.Warnf("cancelling submissions still in flight after %s", grace)
	c.cancel()
	<-done

	return false
}
