// Package contracts embeds the ABIs of the FlightSurety app and data contracts.
package contracts

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/GPTx-global/flightsurety/oracle/types"
)

//go:embed FlightSuretyApp.abi.json
var appABIJSON []byte

//go:embed FlightSuretyData.abi.json
var dataABIJSON []byte

// Contract names one of the two deployed contracts.
type Contract int

const (
	App Contract = iota
	Data
)

func (c Contract) String() string {
	switch c {
	case App:
		return "FlightSuretyApp"
	case Data:
		return "FlightSuretyData"
	}

	return fmt.Sprintf("Contract(%d)", int(c))
}

var (
	once    sync.Once
	appABI  abi.ABI
	dataABI abi.ABI
)

func load() {
	var err error
	if appABI, err = abi.JSON(bytes.NewReader(appABIJSON)); err != nil {
		panic(fmt.Errorf("failed to parse %s abi: %w", App, err))
	}
	if dataABI, err = abi.JSON(bytes.NewReader(dataABIJSON)); err != nil {
		panic(fmt.Errorf("failed to parse %s abi: %w", Data, err))
	}
}

func AppABI() *abi.ABI {
	once.Do(load)
	return &appABI
}

func DataABI() *abi.ABI {
	once.Do(load)
	return &dataABI
}

func ABI(c Contract) *abi.ABI {
	if c == Data {
		return DataABI()
	}

	return AppABI()
}

var eventSources = map[types.EventKind]Contract{
	types.EventOracleRequest:            App,
	types.EventOracleReport:             App,
	types.EventFlightStatusInfo:         App,
	types.EventAppContractAuthorized:    Data,
	types.EventAppContractDeauthorized:  Data,
	types.EventAirlineRegistered:        Data,
	types.EventAirlineFunded:            Data,
	types.EventAirlineDeregistered:      Data,
	types.EventFlightRegistered:         Data,
	types.EventPassengerBoughtInsurance: Data,
	types.EventFlightStatusUpdated:      Data,
	types.EventFlightInsurancePayable:   Data,
	types.EventPassengerReceivedCredit:  Data,
	types.EventPassengerPaid:            Data,
	types.EventFlightInsurancePaid:      Data,
}

// EventSource returns the contract emitting kind and its ABI description.
func EventSource(kind types.EventKind) (Contract, abi.Event, error) {
	c, ok := eventSources[kind]
	if !ok {
		return 0, abi.Event{}, fmt.Errorf("no contract emits %s", kind)
	}

	ev, ok := ABI(c).Events[kind.String()]
	if !ok {
		return 0, abi.Event{}, fmt.Errorf("%s abi has no event %s", c, kind)
	}

	return c, ev, nil
}
