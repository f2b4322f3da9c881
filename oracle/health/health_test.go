package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type HealthTestSuite struct {
	suite.Suite
}

func TestHealthTestSuite(t *testing.T) {
	suite.Run(t, new(HealthTestSuite))
}

func (suite *HealthTestSuite) TestUncheckedIsUnhealthy() {
	c := NewChecker(time.Minute)
	suite.True(c.IsHealthy())

	c.AddCheck(NewFuncCheck("ledger", func(context.Context) error { return nil }))
	suite.False(c.IsHealthy())

	c.RunChecks(context.Background())
	suite.True(c.IsHealthy())
	suite.NoError(c.Err())
}

func (suite *HealthTestSuite) TestFailingCheck() {
	c := NewChecker(time.Minute)
	c.AddCheck(NewFuncCheck("ledger", func(context.Context) error { return nil }))
	c.AddCheck(NewFuncCheck("subscriptions", func(context.Context) error { return errors.New("not subscribed: OracleRequest") }))

	c.RunChecks(context.Background())

	suite.False(c.IsHealthy())
	status := c.GetStatus()
	suite.True(status["ledger"].Healthy)
	suite.False(status["subscriptions"].Healthy)
	suite.Equal("not subscribed: OracleRequest", status["subscriptions"].LastError)
	suite.ErrorContains(c.Err(), "subscriptions")
}

func (suite *HealthTestSuite) TestStartRunsOnInterval() {
	var runs atomic.Int32
	c := NewChecker(5 * time.Millisecond)
	c.AddCheck(NewFuncCheck("tick", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	suite.Eventually(func() bool { return 3 <= runs.Load() }, time.Second, time.Millisecond)
	cancel()
	<-done
}
