package submitter

import (
	"context"
	"errors"

	"github.com/armon/go-metrics"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/store"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

// Ledger sends an oracle response from the oracle's own account.
type Ledger interface {
	SubmitOracleResponse(ctx context.Context, resp types.OracleResponse) (*ethtypes.Receipt, error)
}

// Journal records the outcome of every submission.
type Journal interface {
	Record(sub store.Submission) (store.Submission, error)
}

// Submitter sends oracle responses to the ledger and records what happened to
// each of them. It never retries: a rejected response is final for its
// (oracle, request) pair.
type Submitter struct {
	ledger    Ledger
	journal   Journal
	observers []func(store.Submission)
}

// New creates a Submitter. journal may be nil.
func New(ledger Ledger, journal Journal) *Submitter {
	return &Submitter{
		ledger:  ledger,
		journal: journal,
	}
}

// Observe registers fn to be called with every recorded submission.
// Observers must be registered before the first Submit.
func (s *Submitter) Observe(fn func(store.Submission)) {
	s.observers = append(s.observers, fn)
}

// Submit sends resp and returns the ledger's verdict. The returned error is
// ErrRejectedByLedger when the ledger declined the response and ErrTransport
// when it could not be reached.
func (s *Submitter) Submit(ctx context.Context, resp types.OracleResponse) error {
	receipt, err := s.ledger.SubmitOracleResponse(ctx, resp)

	sub := store.Submission{
		Oracle:     resp.Oracle,
		Request:    resp.Key(),
		StatusCode: resp.StatusCode,
		Accepted:   err == nil,
	}
	if receipt != nil {
		sub.TxHash = receipt.TxHash
	}

	switch {
	case err == nil:
		metrics.IncrCounter([]string{"relay", "submit", "accepted"}, 1)
	case errors.Is(err, types.ErrRejectedByLedger):
		sub.Rejected = true
		sub.Reason = err.Error()
		metrics.IncrCounter([]string{"relay", "submit", "rejected"}, 1)
	default:
		sub.Reason = err.Error()
		metrics.IncrCounter([]string{"relay", "submit", "failed"}, 1)
	}

	if s.journal != nil {
		recorded, jerr := s.journal.Record(sub)
		if jerr != nil {
			log.Warnf("failed to record submission of %s: %v", resp.Oracle.Hex(), jerr)
		} else {
			sub = recorded
		}
	}

	for _, fn := range s.observers {
		fn(sub)
	}

	return err
}
