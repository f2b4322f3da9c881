package ledger_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"github.com/GPTx-global/flightsurety/oracle/contracts"
	"github.com/GPTx-global/flightsurety/oracle/ledger"
	"github.com/GPTx-global/flightsurety/oracle/ledger/ledgertest"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

type LedgerTestSuite struct {
	suite.Suite

	accounts  []common.Address
	transport *ledgertest.Transport
	app       *ledger.BoundContract
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) SetupTest() {
	suite.accounts = ledgertest.Accounts(4)
	suite.transport = ledgertest.NewTransport(suite.accounts, contracts.AppABI(), contracts.DataABI())
	client := ledger.NewClient(suite.transport, ledger.WithReceiptPollInterval(time.Millisecond))
	suite.app = client.Bind(common.HexToAddress("0xa0"), contracts.AppABI())
}

func (suite *LedgerTestSuite) TestCallDecodesOutputs() {
	suite.transport.HandleCall("getMyIndexes", func(from common.Address, _ []any) ([]any, error) {
		suite.Equal(suite.accounts[2], from)
		return []any{[3]uint8{1, 4, 9}}, nil
	})

	out, err := suite.app.Call(context.Background(), ledger.CallOpts{From: suite.accounts[2]}, "getMyIndexes")
	suite.Require().NoError(err)
	suite.Require().Len(out, 1)
	suite.Equal([3]uint8{1, 4, 9}, out[0])
}

func (suite *LedgerTestSuite) TestCallRevertIsRejection() {
	suite.transport.HandleCall("getMyIndexes", func(common.Address, []any) ([]any, error) {
		return nil, ledgertest.Revert("Not registered as an oracle")
	})

	_, err := suite.app.Call(context.Background(), ledger.CallOpts{From: suite.accounts[1]}, "getMyIndexes")
	suite.ErrorIs(err, types.ErrRejectedByLedger)
	suite.Contains(err.Error(), "Not registered as an oracle")
}

func (suite *LedgerTestSuite) TestCallEmptyReturnIsRejection() {
	_, err := suite.app.Call(context.Background(), ledger.CallOpts{}, "oracleRegistrationFee")
	suite.ErrorIs(err, types.ErrRejectedByLedger)
}

func (suite *LedgerTestSuite) TestTransportFailure() {
	suite.transport.TransportErr = errors.New("dial tcp 127.0.0.1:8545: connection refused")

	_, err := suite.app.Call(context.Background(), ledger.CallOpts{}, "oracleRegistrationFee")
	suite.ErrorIs(err, types.ErrTransport)
	suite.NotErrorIs(err, types.ErrRejectedByLedger)
}

func (suite *LedgerTestSuite) TestSendWaitsForReceipt() {
	var gotValue *big.Int
	suite.transport.HandleSend("registerOracle", func(_ common.Address, value *big.Int, _ []any) error {
		gotValue = value
		return nil
	})

	fee := big.NewInt(1e18)
	receipt, err := suite.app.Send(context.Background(), ledger.SendOpts{
		From:     suite.accounts[3],
		Value:    fee,
		GasLimit: 999999999,
	}, "registerOracle")
	suite.Require().NoError(err)
	suite.Equal(uint64(1), receipt.Status)
	suite.Equal(0, fee.Cmp(gotValue))

	sent := suite.transport.Sent("registerOracle")
	suite.Require().Len(sent, 1)
	suite.Equal(suite.accounts[3], sent[0].From)
	suite.Equal(uint64(999999999), sent[0].Gas)
}

func (suite *LedgerTestSuite) TestSendFailedReceiptIsRejection() {
	suite.transport.HandleSend("submitOracleResponse", func(common.Address, *big.Int, []any) error {
		return ledgertest.ErrReceiptFailed
	})

	receipt, err := suite.app.Send(context.Background(), ledger.SendOpts{From: suite.accounts[1]},
		"submitOracleResponse", uint8(4), suite.accounts[1], "523", big.NewInt(1637323200), uint8(20))
	suite.ErrorIs(err, types.ErrRejectedByLedger)
	suite.Require().NotNil(receipt)
	suite.Equal(uint64(0), receipt.Status)
}

func (suite *LedgerTestSuite) TestSendArgumentsRoundTrip() {
	suite.transport.HandleSend("fetchFlightStatus", func(_ common.Address, _ *big.Int, args []any) error {
		suite.Equal("8001", args[1])
		suite.Equal(0, big.NewInt(1637422200).Cmp(args[2].(*big.Int)))
		return nil
	})

	_, err := suite.app.Send(context.Background(), ledger.SendOpts{From: suite.accounts[0]},
		"fetchFlightStatus", suite.accounts[1], "8001", big.NewInt(1637422200))
	suite.NoError(err)
}

func (suite *LedgerTestSuite) TestRevertReason() {
	testCases := []struct {
		name string
		err  error
		exp  string
	}{
		{"plain error", errors.New("boom"), ""},
		{"nested reason", ledgertest.Revert("Index does not match oracle request"), "Index does not match oracle request"},
		{"top-level reason", &ledgertest.RPCError{Code: -32000, Msg: "revert", Data: map[string]any{"reason": "Caller is not authorized"}}, "Caller is not authorized"},
		{"text data", &ledgertest.RPCError{Code: -32000, Msg: "revert", Data: "Contract is not operational"}, "Contract is not operational"},
		{
			"abi encoded",
			&ledgertest.RPCError{Code: 3, Msg: "execution reverted", Data: "0x08c379a0" +
				"0000000000000000000000000000000000000000000000000000000000000020" +
				"0000000000000000000000000000000000000000000000000000000000000004" +
				"6e6f706500000000000000000000000000000000000000000000000000000000"},
			"nope",
		},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			suite.Equal(tc.exp, ledger.RevertReason(tc.err))
		})
	}
}

func (suite *LedgerTestSuite) TestClassifyKeepsExistingCategory() {
	err := ledger.Classify(types.ErrRejectedByLedger, "op")
	suite.ErrorIs(err, types.ErrRejectedByLedger)
	suite.Nil(ledger.Classify(nil, "op"))
}

func (suite *LedgerTestSuite) TestAccountsAndBlockNumber() {
	suite.transport.SetBlockNumber(42)

	client := ledger.NewClient(suite.transport)
	accounts, err := client.Accounts(context.Background())
	suite.Require().NoError(err)
	suite.Equal(suite.accounts, accounts)

	n, err := client.BlockNumber(context.Background())
	suite.Require().NoError(err)
	suite.Equal(uint64(42), n)
}
