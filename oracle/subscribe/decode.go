package subscribe

import (
	"fmt"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/flightsurety/oracle/contracts"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

// Decode turns a raw log of kind into its typed event. Any payload that does
// not match the event layout is an ErrMalformedEvent.
func Decode(kind types.EventKind, l ethtypes.Log) (types.Event, error) {
	_, abiEvent, err := contracts.EventSource(kind)
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrMalformedEvent, err.Error())
	}
	if len(l.Topics) == 0 || l.Topics[0] != abiEvent.ID {
		return nil, errorsmod.Wrapf(types.ErrMalformedEvent, "%s: topic mismatch", kind)
	}

	fields := make(map[string]any)
	if err := abiEvent.Inputs.NonIndexed().UnpackIntoMap(fields, l.Data); err != nil {
		return nil, errorsmod.Wrapf(types.ErrMalformedEvent, "%s: %v", kind, err)
	}

	meta := types.LogMeta{
		Contract:    l.Address,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}
	d := &decoder{fields: fields}

	var ev types.Event
	switch kind {
	case types.EventOracleRequest:
		ev = types.OracleRequestEvent{
			LogMeta:   meta,
			Index:     d.uint8("index"),
			Airline:   d.address("airline"),
			Flight:    d.string("flightId"),
			Timestamp: d.uint64("timestamp"),
		}
	case types.EventOracleReport:
		ev = types.OracleReportEvent{
			LogMeta:   meta,
			Airline:   d.address("airline"),
			Flight:    d.string("flightId"),
			Timestamp: d.uint64("timestamp"),
			Status:    d.status("status"),
		}
	case types.EventFlightStatusInfo:
		ev = types.FlightStatusEvent{
			LogMeta:   meta,
			EventKind: kind,
			Airline:   d.address("airline"),
			Flight:    d.string("flightId"),
			Timestamp: d.uint64("timestamp"),
			Status:    d.status("status"),
		}
	case types.EventFlightStatusUpdated:
		ev = types.FlightStatusEvent{
			LogMeta:   meta,
			EventKind: kind,
			Airline:   d.address("airline"),
			Flight:    d.string("flightId"),
			Timestamp: d.uint64("timestamp"),
			Status:    d.status("statusCode"),
		}
	case types.EventAppContractAuthorized, types.EventAppContractDeauthorized:
		ev = types.ContractAuthorizationEvent{
			LogMeta:     meta,
			EventKind:   kind,
			AppContract: d.address("appContract"),
		}
	case types.EventAirlineRegistered, types.EventAirlineDeregistered:
		ev = types.AirlineEvent{
			LogMeta:   meta,
			EventKind: kind,
			Airline:   d.address("airline"),
		}
	case types.EventAirlineFunded:
		ev = types.AirlineEvent{
			LogMeta:   meta,
			EventKind: kind,
			Airline:   d.address("airline"),
			Amount:    d.bigInt("amount"),
		}
	case types.EventFlightRegistered, types.EventFlightInsurancePayable, types.EventFlightInsurancePaid:
		ev = types.FlightEvent{
			LogMeta:   meta,
			EventKind: kind,
			Airline:   d.address("airline"),
			Flight:    d.string("flightId"),
			Timestamp: d.uint64("timestamp"),
		}
	case types.EventPassengerBoughtInsurance:
		ev = types.InsurancePurchaseEvent{
			LogMeta:   meta,
			Passenger: d.address("passenger"),
			Airline:   d.address("airline"),
			Flight:    d.string("flightId"),
			Timestamp: d.uint64("timestamp"),
			Amount:    d.bigInt("amount"),
		}
	case types.EventPassengerReceivedCredit, types.EventPassengerPaid:
		ev = types.PassengerPaymentEvent{
			LogMeta:   meta,
			EventKind: kind,
			Passenger: d.address("passenger"),
			Amount:    d.bigInt("amount"),
		}
	default:
		return nil, errorsmod.Wrapf(types.ErrMalformedEvent, "unsupported event kind %s", kind)
	}

	if d.err != nil {
		return nil, errorsmod.Wrapf(types.ErrMalformedEvent, "%s: %v", kind, d.err)
	}

	return ev, nil
}

// decoder reads typed fields out of an unpacked event, keeping the first
// error.
type decoder struct {
	fields map[string]any
	err    error
}

func (d *decoder) get(name string) (any, bool) {
	if d.err != nil {
		return nil, false
	}
	v, ok := d.fields[name]
	if !ok {
		d.err = fmt.Errorf("missing field %s", name)
	}
	return v, ok
}

func (d *decoder) mismatch(name string, v any) {
	d.err = fmt.Errorf("field %s has unexpected type %T", name, v)
}

func (d *decoder) uint8(name string) uint8 {
	v, ok := d.get(name)
	if !ok {
		return 0
	}
	u, ok := v.(uint8)
	if !ok {
		d.mismatch(name, v)
	}
	return u
}

func (d *decoder) status(name string) types.StatusCode {
	raw := d.uint8(name)
	if d.err != nil {
		return types.StatusUnknown
	}
	code, err := types.ParseStatusCode(raw)
	if err != nil {
		d.err = err
	}
	return code
}

func (d *decoder) address(name string) common.Address {
	v, ok := d.get(name)
	if !ok {
		return common.Address{}
	}
	a, ok := v.(common.Address)
	if !ok {
		d.mismatch(name, v)
	}
	return a
}

func (d *decoder) string(name string) string {
	v, ok := d.get(name)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.mismatch(name, v)
	}
	return s
}

func (d *decoder) bigInt(name string) *big.Int {
	v, ok := d.get(name)
	if !ok {
		return nil
	}
	b, ok := v.(*big.Int)
	if !ok {
		d.mismatch(name, v)
	}
	return b
}

func (d *decoder) uint64(name string) uint64 {
	b := d.bigInt(name)
	if d.err != nil {
		return 0
	}
	if !b.IsUint64() {
		d.err = fmt.Errorf("field %s overflows uint64", name)
		return 0
	}
	return b.Uint64()
}
