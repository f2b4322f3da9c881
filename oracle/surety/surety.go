// Package surety holds typed bindings for the FlightSurety contracts.
package surety

import (
	"context"
	"fmt"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/GPTx-global/flightsurety/oracle/contracts"
	"github.com/GPTx-global/flightsurety/oracle/ledger"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

// MaxInsurance is the largest premium a passenger may pay for one flight.
var MaxInsurance = big.NewInt(params.Ether)

// FlightInfo is a registered flight as reported by the app contract.
type FlightInfo struct {
	Key    [32]byte         `json:"key"`
	Flight types.FlightKey  `json:"flight"`
	Status types.StatusCode `json:"statusCode"`
}

// SuretyInfo is a passenger's insurance on one flight.
type SuretyInfo struct {
	InsuredAmount *big.Int         `json:"insuredAmount"`
	CreditAmount  *big.Int         `json:"creditAmount"`
	Status        types.StatusCode `json:"statusCode"`
}

// App binds FlightSuretyApp.
type App struct {
	contract       *ledger.BoundContract
	gasLimit       uint64
	oracleGasLimit uint64
}

func NewApp(client *ledger.Client, address common.Address, gasLimit, oracleGasLimit uint64) *App {
	return &App{
		contract:       client.Bind(address, contracts.AppABI()),
		gasLimit:       gasLimit,
		oracleGasLimit: oracleGasLimit,
	}
}

func (a *App) Address() common.Address {
	return a.contract.Address()
}

func (a *App) send(ctx context.Context, from common.Address, value *big.Int, method string, args ...any) (*ethtypes.Receipt, error) {
	return a.contract.Send(ctx, ledger.SendOpts{From: from, Value: value, GasLimit: a.gasLimit}, method, args...)
}

func (a *App) IsOperational(ctx context.Context) (bool, error) {
	out, err := a.contract.Call(ctx, ledger.CallOpts{}, "isOperational")
	if err != nil {
		return false, err
	}

	return out[0].(bool), nil
}

func (a *App) AirlineRegistrationFee(ctx context.Context) (*big.Int, error) {
	return a.fee(ctx, "airlineRegistrationFee")
}

func (a *App) OracleRegistrationFee(ctx context.Context) (*big.Int, error) {
	return a.fee(ctx, "oracleRegistrationFee")
}

func (a *App) fee(ctx context.Context, method string) (*big.Int, error) {
	out, err := a.contract.Call(ctx, ledger.CallOpts{}, method)
	if err != nil {
		return nil, err
	}

	return out[0].(*big.Int), nil
}

func (a *App) RegisterAirline(ctx context.Context, from, airline common.Address) (*ethtypes.Receipt, error) {
	return a.send(ctx, from, nil, "registerAirline", airline)
}

func (a *App) FundAirline(ctx context.Context, airline common.Address, amount *big.Int) (*ethtypes.Receipt, error) {
	return a.send(ctx, airline, amount, "fundAirline", airline)
}

func (a *App) RegisterFlight(ctx context.Context, flight types.FlightKey) (*ethtypes.Receipt, error) {
	return a.send(ctx, flight.Airline, nil, "registerFlight", flightArgs(flight)...)
}

// BuyInsurance pays amount from passenger to insure flight.
func (a *App) BuyInsurance(ctx context.Context, passenger common.Address, flight types.FlightKey, amount *big.Int) (*ethtypes.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 || MaxInsurance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("insurance amount must be in (0, %s] wei", MaxInsurance)
	}

	return a.send(ctx, passenger, amount, "buyInsurance", flightArgs(flight)...)
}

// FetchFlightStatus asks the ledger to open an oracle request for flight.
func (a *App) FetchFlightStatus(ctx context.Context, from common.Address, flight types.FlightKey) (*ethtypes.Receipt, error) {
	return a.send(ctx, from, nil, "fetchFlightStatus", flightArgs(flight)...)
}

func (a *App) GetRegisteredFlights(ctx context.Context) ([][32]byte, error) {
	out, err := a.contract.Call(ctx, ledger.CallOpts{}, "getRegisteredFlights")
	if err != nil {
		return nil, err
	}

	return out[0].([][32]byte), nil
}

func (a *App) GetRegisteredFlightInfo(ctx context.Context, key [32]byte) (FlightInfo, error) {
	out, err := a.contract.Call(ctx, ledger.CallOpts{}, "getRegisteredFlightInfo", key)
	if err != nil {
		return FlightInfo{}, err
	}

	status, err := types.ParseStatusCode(out[3].(uint8))
	if err != nil {
		return FlightInfo{}, err
	}

	return FlightInfo{
		Key: key,
		Flight: types.FlightKey{
			Airline:   out[0].(common.Address),
			Flight:    out[1].(string),
			Timestamp: out[2].(*big.Int).Uint64(),
		},
		Status: status,
	}, nil
}

// Flights lists every registered flight with its info.
func (a *App) Flights(ctx context.Context) ([]FlightInfo, error) {
	keys, err := a.GetRegisteredFlights(ctx)
	if err != nil {
		return nil, err
	}

	flights := make([]FlightInfo, 0, len(keys))
	for _, key := range keys {
		info, err := a.GetRegisteredFlightInfo(ctx, key)
		if err != nil {
			return nil, err
		}
		flights = append(flights, info)
	}

	return flights, nil
}

func (a *App) GetSuretyInfo(ctx context.Context, passenger common.Address, flight types.FlightKey) (SuretyInfo, error) {
	out, err := a.contract.Call(ctx, ledger.CallOpts{From: passenger}, "getSuretyInfo", flightArgs(flight)...)
	if err != nil {
		return SuretyInfo{}, err
	}

	status, err := types.ParseStatusCode(out[2].(uint8))
	if err != nil {
		return SuretyInfo{}, err
	}

	return SuretyInfo{
		InsuredAmount: out[0].(*big.Int),
		CreditAmount:  out[1].(*big.Int),
		Status:        status,
	}, nil
}

func (a *App) WithdrawPassengerClaim(ctx context.Context, passenger common.Address, flight types.FlightKey) (*ethtypes.Receipt, error) {
	return a.send(ctx, passenger, nil, "withdrawPassengerClaim", flightArgs(flight)...)
}

// RegisterOracle registers the oracle account, paying fee.
func (a *App) RegisterOracle(ctx context.Context, oracle common.Address, fee *big.Int) (*ethtypes.Receipt, error) {
	return a.send(ctx, oracle, fee, "registerOracle")
}

// GetMyIndexes returns the indexes the ledger assigned to oracle.
func (a *App) GetMyIndexes(ctx context.Context, oracle common.Address) (types.IndexSet, error) {
	out, err := a.contract.Call(ctx, ledger.CallOpts{From: oracle}, "getMyIndexes")
	if err != nil {
		return types.IndexSet{}, err
	}

	indexes := types.IndexSet(out[0].([3]uint8))
	for _, i := range indexes {
		if types.MaxIndex < i {
			return types.IndexSet{}, errorsmod.Wrapf(types.ErrRejectedByLedger, "index %d out of range", i)
		}
	}

	return indexes, nil
}

// SubmitOracleResponse sends resp from its oracle account with the oracle gas
// ceiling.
func (a *App) SubmitOracleResponse(ctx context.Context, resp types.OracleResponse) (*ethtypes.Receipt, error) {
	return a.contract.Send(ctx, ledger.SendOpts{From: resp.Oracle, GasLimit: a.oracleGasLimit},
		"submitOracleResponse",
		resp.Index,
		resp.Airline,
		resp.Flight,
		new(big.Int).SetUint64(resp.Timestamp),
		uint8(resp.StatusCode),
	)
}

func flightArgs(flight types.FlightKey) []any {
	return []any{flight.Airline, flight.Flight, new(big.Int).SetUint64(flight.Timestamp)}
}

// Data binds FlightSuretyData.
type Data struct {
	contract *ledger.BoundContract
	gasLimit uint64
}

func NewData(client *ledger.Client, address common.Address, gasLimit uint64) *Data {
	return &Data{
		contract: client.Bind(address, contracts.DataABI()),
		gasLimit: gasLimit,
	}
}

func (d *Data) Address() common.Address {
	return d.contract.Address()
}

// AuthorizeAppContract lets app call the data contract. Only the contract
// owner may send it.
func (d *Data) AuthorizeAppContract(ctx context.Context, owner, app common.Address) (*ethtypes.Receipt, error) {
	return d.contract.Send(ctx, ledger.SendOpts{From: owner, GasLimit: d.gasLimit}, "authorizeAppContract", app)
}

func (d *Data) DeauthorizeAppContract(ctx context.Context, owner, app common.Address) (*ethtypes.Receipt, error) {
	return d.contract.Send(ctx, ledger.SendOpts{From: owner, GasLimit: d.gasLimit}, "deauthorizeAppContract", app)
}

func (d *Data) WithdrawPassengerClaimDirect(ctx context.Context, passenger common.Address, flight types.FlightKey) (*ethtypes.Receipt, error) {
	args := append([]any{passenger}, flightArgs(flight)...)
	return d.contract.Send(ctx, ledger.SendOpts{From: passenger, GasLimit: d.gasLimit}, "withdrawPassengerClaimDirect", args...)
}
