package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/flightsurety/oracle/types"
)

type RetryTestSuite struct {
	suite.Suite
}

func TestRetryTestSuite(t *testing.T) {
	suite.Run(t, new(RetryTestSuite))
}

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	}
}

func (suite *RetryTestSuite) TestDefaultIsRetryable() {
	testCases := []struct {
		name string
		err  error
		exp  bool
	}{
		{"nil", nil, false},
		{"transport", errorsmod.Wrap(types.ErrTransport, "dial"), true},
		{"rejected", errorsmod.Wrap(types.ErrRejectedByLedger, "revert"), false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"plain", errors.New("boom"), false},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			suite.Equal(tc.exp, DefaultIsRetryable(tc.err))
		})
	}
}

func (suite *RetryTestSuite) TestDoSucceedsAfterTransientFailures() {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return types.ErrTransport
		}
		return nil
	}, DefaultIsRetryable)

	suite.NoError(err)
	suite.Equal(3, calls)
}

func (suite *RetryTestSuite) TestDoStopsOnNonRetryable() {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return types.ErrRejectedByLedger
	}, DefaultIsRetryable)

	suite.ErrorIs(err, types.ErrRejectedByLedger)
	suite.Equal(1, calls)
}

func (suite *RetryTestSuite) TestDoExhaustsAttempts() {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return types.ErrTransport
	}, DefaultIsRetryable)

	suite.ErrorIs(err, types.ErrTransport)
	suite.Equal(3, calls)
}

func (suite *RetryTestSuite) TestDoHonoursContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(0), func() error { return types.ErrTransport }, DefaultIsRetryable)
	suite.ErrorIs(err, context.Canceled)
}

func (suite *RetryTestSuite) TestCalculateDelay() {
	cfg := &Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	suite.Equal(time.Second, calculateDelay(cfg, 1))
	suite.Equal(2*time.Second, calculateDelay(cfg, 2))
	suite.Equal(4*time.Second, calculateDelay(cfg, 3))
	suite.Equal(5*time.Second, calculateDelay(cfg, 4))
}

func (suite *RetryTestSuite) TestCircuitBreaker() {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	fail := func() error { return errors.New("down") }
	ok := func() error { return nil }

	suite.Error(cb.Execute(fail))
	suite.Equal(StateClosed, cb.State())
	suite.Error(cb.Execute(fail))
	suite.Equal(StateOpen, cb.State())

	suite.ErrorIs(cb.Execute(ok), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	suite.NoError(cb.Execute(ok))
	suite.Equal(StateClosed, cb.State())
}
