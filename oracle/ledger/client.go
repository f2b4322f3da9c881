package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/tidwall/gjson"

	"github.com/GPTx-global/flightsurety/oracle/types"
)

const defaultReceiptPollInterval = 500 * time.Millisecond

// CallOpts carries the sender of a read-only call.
type CallOpts struct {
	From common.Address
}

// SendOpts carries the sender, the attached value and the gas ceiling of a
// state-mutating transaction.
type SendOpts struct {
	From     common.Address
	Value    *big.Int
	GasLimit uint64
}

// Client is the request/response façade over the ledger shared by the relay
// and the command line.
type Client struct {
	transport    Transport
	pollInterval time.Duration
}

type Option func(*Client)

func WithReceiptPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if 0 < d {
			c.pollInterval = d
		}
	}
}

func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport:    transport,
		pollInterval: defaultReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) Transport() Transport {
	return c.transport
}

func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	accounts, err := c.transport.Accounts(ctx)
	if err != nil {
		return nil, Classify(err, "eth_accounts")
	}

	return accounts, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.transport.BlockNumber(ctx)
	if err != nil {
		return 0, Classify(err, "eth_blockNumber")
	}

	return n, nil
}

func (c *Client) Bind(address common.Address, contractABI *abi.ABI) *BoundContract {
	return &BoundContract{
		client:  c,
		address: address,
		abi:     contractABI,
	}
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash, method string) (*ethtypes.Receipt, error) {
	for {
		receipt, err := c.transport.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == ethtypes.ReceiptStatusFailed {
				return receipt, errorsmod.Wrapf(types.ErrRejectedByLedger, "%s: transaction %s reverted", method, hash.Hex())
			}
			return receipt, nil
		case err == nil, errors.Is(err, ethereum.NotFound):
		default:
			return nil, Classify(err, method)
		}

		select {
		case <-ctx.Done():
			return nil, errorsmod.Wrapf(types.ErrTransport, "%s: waiting for receipt of %s: %v", method, hash.Hex(), ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

// BoundContract issues calls and transactions against one deployed contract.
type BoundContract struct {
	client  *Client
	address common.Address
	abi     *abi.ABI
}

func (b *BoundContract) Address() common.Address {
	return b.address
}

func (b *BoundContract) ABI() *abi.ABI {
	return b.abi
}

// Call executes a read-only method and returns its decoded outputs.
func (b *BoundContract) Call(ctx context.Context, opts CallOpts, method string, args ...any) ([]any, error) {
	m, ok := b.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found in abi", method)
	}

	input, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	to := b.address
	output, err := b.client.transport.CallContract(ctx, ethereum.CallMsg{
		From: opts.From,
		To:   &to,
		Data: input,
	}, nil)
	if err != nil {
		return nil, Classify(err, method)
	}

	if len(output) == 0 && 0 < len(m.Outputs) {
		return nil, errorsmod.Wrapf(types.ErrRejectedByLedger, "%s: empty return data", method)
	}

	values, err := b.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}

	return values, nil
}

// Send submits a state-mutating transaction and waits for its receipt. A
// reverted transaction is reported as ErrRejectedByLedger together with the
// receipt.
func (b *BoundContract) Send(ctx context.Context, opts SendOpts, method string, args ...any) (*ethtypes.Receipt, error) {
	input, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	to := b.address
	hash, err := b.client.transport.SendTransaction(ctx, TxArgs{
		From:  opts.From,
		To:    &to,
		Value: opts.Value,
		Gas:   opts.GasLimit,
		Data:  input,
	})
	if err != nil {
		return nil, Classify(err, method)
	}

	return b.client.waitReceipt(ctx, hash, method)
}

// Classify maps a transport error to the relay taxonomy. Errors answered by
// the node are rejections; anything else is a transport failure.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrRejectedByLedger) || errors.Is(err, types.ErrTransport) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if reason := RevertReason(err); reason != "" {
			return errorsmod.Wrapf(types.ErrRejectedByLedger, "%s: %s", op, reason)
		}
		return errorsmod.Wrapf(types.ErrRejectedByLedger, "%s: %v", op, err)
	}

	return errorsmod.Wrapf(types.ErrTransport, "%s: %v", op, err)
}

// RevertReason extracts the revert reason carried in the data of a JSON-RPC
// error. Both the ABI-encoded Error(string) form and the per-transaction map
// returned by development chains are understood.
func RevertReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}

	data := dataErr.ErrorData()
	if s, ok := data.(string); ok {
		if strings.HasPrefix(s, "0x") {
			if raw, err := hexutil.Decode(s); err == nil {
				if reason, err := abi.UnpackRevert(raw); err == nil {
					return reason
				}
			}
			return ""
		}
		return s
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}

	parsed := gjson.ParseBytes(raw)
	if reason := parsed.Get("reason"); reason.Exists() {
		return reason.String()
	}

	var reason string
	parsed.ForEach(func(_, value gjson.Result) bool {
		if r := value.Get("reason"); r.Exists() {
			reason = r.String()
			return false
		}
		return true
	})

	return reason
}
