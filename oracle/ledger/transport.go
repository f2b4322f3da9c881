package ledger

import (
	"context"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/GPTx-global/flightsurety/oracle/types"
)

// TxArgs describes a transaction sent from a node-managed account. Signing is
// left to the node.
type TxArgs struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Gas   uint64
	Data  []byte
}

// Transport is the JSON-RPC surface of the ledger used by the relay.
type Transport interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, args TxArgs) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	Accounts(ctx context.Context) ([]common.Address, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
	Close()
}

type rpcTransport struct {
	*ethclient.Client
	rpc *rpc.Client
}

// Dial connects to a ledger node. Log subscriptions need a websocket or IPC
// endpoint.
func Dial(ctx context.Context, endpoint string) (Transport, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrTransport, "failed to dial %s: %v", endpoint, err)
	}

	return &rpcTransport{
		Client: ethclient.NewClient(client),
		rpc:    client,
	}, nil
}

func (t *rpcTransport) SendTransaction(ctx context.Context, args TxArgs) (common.Hash, error) {
	var hash common.Hash
	err := t.rpc.CallContext(ctx, &hash, "eth_sendTransaction", toCallArg(args))
	return hash, err
}

func (t *rpcTransport) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := t.rpc.CallContext(ctx, &accounts, "eth_accounts")
	return accounts, err
}

func (t *rpcTransport) Close() {
	t.Client.Close()
}

func toCallArg(args TxArgs) map[string]any {
	arg := map[string]any{
		"from": args.From,
		"data": hexutil.Bytes(args.Data),
	}
	if args.To != nil {
		arg["to"] = args.To
	}
	if args.Gas != 0 {
		arg["gas"] = hexutil.Uint64(args.Gas)
	}
	if args.Value != nil {
		arg["value"] = (*hexutil.Big)(args.Value)
	}

	return arg
}
