package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind enumerates the ledger events the relay decodes.
type EventKind int

const (
	EventOracleRequest EventKind = iota + 1
	EventOracleReport
	EventFlightStatusInfo
	EventAppContractAuthorized
	EventAppContractDeauthorized
	EventAirlineRegistered
	EventAirlineFunded
	EventAirlineDeregistered
	EventFlightRegistered
	EventPassengerBoughtInsurance
	EventFlightStatusUpdated
	EventFlightInsurancePayable
	EventPassengerReceivedCredit
	EventPassengerPaid
	EventFlightInsurancePaid
	eventSentinel
)

var eventNames = map[EventKind]string{
	EventOracleRequest:            "OracleRequest",
	EventOracleReport:             "OracleReport",
	EventFlightStatusInfo:         "FlightStatusInfo",
	EventAppContractAuthorized:    "AppContractAuthorized",
	EventAppContractDeauthorized:  "AppContractDeauthorized",
	EventAirlineRegistered:        "AirlineRegistered",
	EventAirlineFunded:            "AirlineFunded",
	EventAirlineDeregistered:      "AirlineDeregistered",
	EventFlightRegistered:         "FlightRegistered",
	EventPassengerBoughtInsurance: "PassengerBoughtInsurance",
	EventFlightStatusUpdated:      "FlightStatusUpdated",
	EventFlightInsurancePayable:   "FlightInsurancePayable",
	EventPassengerReceivedCredit:  "PassengerReceivedCredit",
	EventPassengerPaid:            "PassengerPaid",
	EventFlightInsurancePaid:      "FlightInsurancePaid",
}

// AllEventKinds lists every kind in declaration order.
func AllEventKinds() []EventKind {
	kinds := make([]EventKind, 0, len(eventNames))
	for k := EventOracleRequest; k < eventSentinel; k++ {
		kinds = append(kinds, k)
	}

	return kinds
}

func (k EventKind) Valid() bool {
	return k >= EventOracleRequest && k < eventSentinel
}

// String returns the Solidity event name.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}

	return fmt.Sprintf("EventKind(%d)", int(k))
}

func ParseEventKind(name string) (EventKind, error) {
	for k, n := range eventNames {
		if n == name {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown event kind %q", name)
}

// LogMeta locates the log an event was decoded from.
type LogMeta struct {
	Contract    common.Address `json:"contract"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
}

// ID is unique per log and stable across redelivery of the same log.
func (m LogMeta) ID() string {
	return fmt.Sprintf("%s:%d", m.TxHash.Hex(), m.LogIndex)
}

// Event is a decoded ledger event. Each kind has one concrete type.
type Event interface {
	Kind() EventKind
	Meta() LogMeta
}

// EventFilter selects events for a handler. A nil filter accepts everything.
type EventFilter func(Event) bool

// OracleRequestEvent is emitted when the ledger asks oracles for a status.
type OracleRequestEvent struct {
	LogMeta
	Index     uint8          `json:"index"`
	Airline   common.Address `json:"airline"`
	Flight    string         `json:"flightId"`
	Timestamp uint64         `json:"timestamp"`
}

func (e OracleRequestEvent) Kind() EventKind { return EventOracleRequest }
func (e OracleRequestEvent) Meta() LogMeta   { return e.LogMeta }

func (e OracleRequestEvent) Request() StatusRequest {
	return StatusRequest{Index: e.Index, Airline: e.Airline, Flight: e.Flight, Timestamp: e.Timestamp}
}

// OracleReportEvent is emitted for every accepted oracle response.
type OracleReportEvent struct {
	LogMeta
	Airline   common.Address `json:"airline"`
	Flight    string         `json:"flightId"`
	Timestamp uint64         `json:"timestamp"`
	Status    StatusCode     `json:"status"`
}

func (e OracleReportEvent) Kind() EventKind { return EventOracleReport }
func (e OracleReportEvent) Meta() LogMeta   { return e.LogMeta }

func (e OracleReportEvent) FlightKey() FlightKey {
	return FlightKey{Airline: e.Airline, Flight: e.Flight, Timestamp: e.Timestamp}
}

// FlightStatusEvent carries a finalized status. It is used for both
// FlightStatusInfo (app contract) and FlightStatusUpdated (data contract).
type FlightStatusEvent struct {
	LogMeta
	EventKind EventKind      `json:"-"`
	Airline   common.Address `json:"airline"`
	Flight    string         `json:"flightId"`
	Timestamp uint64         `json:"timestamp"`
	Status    StatusCode     `json:"status"`
}

func (e FlightStatusEvent) Kind() EventKind { return e.EventKind }
func (e FlightStatusEvent) Meta() LogMeta   { return e.LogMeta }

func (e FlightStatusEvent) FlightKey() FlightKey {
	return FlightKey{Airline: e.Airline, Flight: e.Flight, Timestamp: e.Timestamp}
}

// ContractAuthorizationEvent is AppContractAuthorized or AppContractDeauthorized.
type ContractAuthorizationEvent struct {
	LogMeta
	EventKind   EventKind      `json:"-"`
	AppContract common.Address `json:"appContract"`
}

func (e ContractAuthorizationEvent) Kind() EventKind { return e.EventKind }
func (e ContractAuthorizationEvent) Meta() LogMeta   { return e.LogMeta }

// AirlineEvent is AirlineRegistered, AirlineFunded or AirlineDeregistered.
// Amount is only set for AirlineFunded.
type AirlineEvent struct {
	LogMeta
	EventKind EventKind      `json:"-"`
	Airline   common.Address `json:"airline"`
	Amount    *big.Int       `json:"amount,omitempty"`
}

func (e AirlineEvent) Kind() EventKind { return e.EventKind }
func (e AirlineEvent) Meta() LogMeta   { return e.LogMeta }

// FlightEvent is FlightRegistered, FlightInsurancePayable or FlightInsurancePaid.
type FlightEvent struct {
	LogMeta
	EventKind EventKind      `json:"-"`
	Airline   common.Address `json:"airline"`
	Flight    string         `json:"flightId"`
	Timestamp uint64         `json:"timestamp"`
}

func (e FlightEvent) Kind() EventKind { return e.EventKind }
func (e FlightEvent) Meta() LogMeta   { return e.LogMeta }

// InsurancePurchaseEvent is PassengerBoughtInsurance.
type InsurancePurchaseEvent struct {
	LogMeta
	Passenger common.Address `json:"passenger"`
	Airline   common.Address `json:"airline"`
	Flight    string         `json:"flightId"`
	Timestamp uint64         `json:"timestamp"`
	Amount    *big.Int       `json:"amount"`
}

func (e InsurancePurchaseEvent) Kind() EventKind { return EventPassengerBoughtInsurance }
func (e InsurancePurchaseEvent) Meta() LogMeta   { return e.LogMeta }

// PassengerPaymentEvent is PassengerReceivedCredit or PassengerPaid.
type PassengerPaymentEvent struct {
	LogMeta
	EventKind EventKind      `json:"-"`
	Passenger common.Address `json:"passenger"`
	Amount    *big.Int       `json:"amount"`
}

func (e PassengerPaymentEvent) Kind() EventKind { return e.EventKind }
func (e PassengerPaymentEvent) Meta() LogMeta   { return e.LogMeta }
