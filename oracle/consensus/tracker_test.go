package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/flightsurety/oracle/types"
)

type TrackerTestSuite struct {
	suite.Suite

	tracker *Tracker
	clock   time.Time
	flight  types.FlightKey
}

func TestTrackerTestSuite(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}

func (suite *TrackerTestSuite) SetupTest() {
	tracker, err := NewTracker(2, DefaultMinResponses)
	suite.Require().NoError(err)

	suite.clock = time.Unix(1637323200, 0)
	tracker.now = func() time.Time {
		suite.clock = suite.clock.Add(time.Second)
		return suite.clock
	}
	suite.tracker = tracker
	suite.flight = types.FlightKey{Airline: common.HexToAddress("0x1"), Flight: "523", Timestamp: 1637323200}
}

func (suite *TrackerTestSuite) request(index uint8, key types.FlightKey) types.StatusRequest {
	return types.StatusRequest{Index: index, Airline: key.Airline, Flight: key.Flight, Timestamp: key.Timestamp}
}

func (suite *TrackerTestSuite) TestInvalidConfig() {
	_, err := NewTracker(10, 0)
	suite.Error(err)
	_, err = NewTracker(0, 3)
	suite.Error(err)
}

func (suite *TrackerTestSuite) TestQuorum() {
	suite.tracker.Open(suite.request(4, suite.flight))

	suite.tracker.Observe(suite.flight, types.StatusLateAirline)
	suite.tracker.Observe(suite.flight, types.StatusOnTime)
	suite.tracker.Observe(suite.flight, types.StatusLateAirline)

	code, reached := suite.tracker.Leading(suite.flight)
	suite.Equal(types.StatusLateAirline, code)
	suite.False(reached)

	suite.tracker.Observe(suite.flight, types.StatusLateAirline)
	code, reached = suite.tracker.Leading(suite.flight)
	suite.Equal(types.StatusLateAirline, code)
	suite.True(reached)
}

func (suite *TrackerTestSuite) TestLeadingTieGoesToLowerCode() {
	suite.tracker.Observe(suite.flight, types.StatusLateWeather)
	suite.tracker.Observe(suite.flight, types.StatusOnTime)

	code, reached := suite.tracker.Leading(suite.flight)
	suite.Equal(types.StatusOnTime, code)
	suite.False(reached)

	_, reached = suite.tracker.Leading(types.FlightKey{Flight: "none"})
	suite.False(reached)
}

func (suite *TrackerTestSuite) TestPendingAndFinalize() {
	other := suite.flight
	other.Flight = "8001"

	suite.tracker.Open(suite.request(4, suite.flight))
	suite.tracker.Open(suite.request(4, suite.flight))
	suite.tracker.Open(suite.request(7, other))

	pending := suite.tracker.Pending()
	suite.Require().Len(pending, 2)
	suite.Equal([]int{4}, pending[0].Indexes)

	suite.tracker.Finalize(suite.flight, types.StatusLateAirline)
	suite.tracker.Finalize(suite.flight, types.StatusOnTime)

	pending = suite.tracker.Pending()
	suite.Require().Len(pending, 1)
	suite.Equal("8001", pending[0].Flight.Flight)

	tally, ok := suite.tracker.Get(suite.flight)
	suite.Require().True(ok)
	suite.Require().NotNil(tally.Final)
	suite.Equal(types.StatusLateAirline, *tally.Final, "the first final status wins")
}

func (suite *TrackerTestSuite) TestHistoryIsBounded() {
	for _, flight := range []string{"523", "8001", "2397"} {
		key := suite.flight
		key.Flight = flight
		suite.tracker.Open(suite.request(1, key))
	}

	flights := suite.tracker.Flights()
	suite.Require().Len(flights, 2)
	suite.Equal("8001", flights[0].Flight.Flight)
	suite.Equal("2397", flights[1].Flight.Flight)
}

func (suite *TrackerTestSuite) TestHandleEvent() {
	ctx := context.Background()
	suite.tracker.HandleEvent(ctx, types.OracleRequestEvent{Index: 2, Airline: suite.flight.Airline, Flight: suite.flight.Flight, Timestamp: suite.flight.Timestamp})
	for i := 0; i < 3; i++ {
		suite.tracker.HandleEvent(ctx, types.OracleReportEvent{Airline: suite.flight.Airline, Flight: suite.flight.Flight, Timestamp: suite.flight.Timestamp, Status: types.StatusLateAirline})
	}
	suite.tracker.HandleEvent(ctx, types.FlightStatusEvent{EventKind: types.EventFlightStatusInfo, Airline: suite.flight.Airline, Flight: suite.flight.Flight, Timestamp: suite.flight.Timestamp, Status: types.StatusLateAirline})

	tally, ok := suite.tracker.Get(suite.flight)
	suite.Require().True(ok)
	suite.Equal(3, tally.Votes[types.StatusLateAirline])
	suite.Equal(types.StatusLateAirline, *tally.Final)
	suite.Empty(suite.tracker.Pending())
}

func (suite *TrackerTestSuite) TestGetReturnsCopy() {
	suite.tracker.Observe(suite.flight, types.StatusOnTime)

	tally, _ := suite.tracker.Get(suite.flight)
	tally.Votes[types.StatusOnTime] = 99

	again, _ := suite.tracker.Get(suite.flight)
	suite.Equal(1, again.Votes[types.StatusOnTime])
}
