// Package registry registers oracle identities with the ledger and keeps the
// index sets they were assigned.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/state"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

// Ledger is the part of the app contract the registry needs.
type Ledger interface {
	OracleRegistrationFee(ctx context.Context) (*big.Int, error)
	RegisterOracle(ctx context.Context, oracle common.Address, fee *big.Int) (*ethtypes.Receipt, error)
	GetMyIndexes(ctx context.Context, oracle common.Address) (types.IndexSet, error)
}

type Registry struct {
	ledger Ledger
	state  *state.RelayState

	feeMu sync.Mutex
	fee   *big.Int
}

func New(ledger Ledger, s *state.RelayState) *Registry {
	return &Registry{
		ledger: ledger,
		state:  s,
	}
}

func (r *Registry) registrationFee(ctx context.Context) (*big.Int, error) {
	r.feeMu.Lock()
	defer r.feeMu.Unlock()

	if r.fee != nil {
		return r.fee, nil
	}

	fee, err := r.ledger.OracleRegistrationFee(ctx)
	if err != nil {
		return nil, err
	}
	r.fee = fee

	return fee, nil
}

// Register pays the registration fee from identity and records the indexes the
// ledger assigned to it.
func (r *Registry) Register(ctx context.Context, identity common.Address) (types.IndexSet, error) {
	if _, ok := r.state.Oracle(identity); ok {
		return types.IndexSet{}, errorsmod.Wrapf(types.ErrRegistrationFailure, "%s is already registered", identity.Hex())
	}

	fee, err := r.registrationFee(ctx)
	if err != nil {
		return types.IndexSet{}, registrationFailure(identity, "registration fee", err)
	}

	if _, err := r.ledger.RegisterOracle(ctx, identity, fee); err != nil {
		return types.IndexSet{}, registrationFailure(identity, "registerOracle", err)
	}

	return r.track(ctx, identity)
}

// Adopt tracks an identity that a previous run already registered on the
// ledger.
func (r *Registry) Adopt(ctx context.Context, identity common.Address) (types.IndexSet, error) {
	if oracle, ok := r.state.Oracle(identity); ok {
		return oracle.Indexes, nil
	}

	return r.track(ctx, identity)
}

func (r *Registry) track(ctx context.Context, identity common.Address) (types.IndexSet, error) {
	indexes, err := r.ledger.GetMyIndexes(ctx, identity)
	if err != nil {
		return types.IndexSet{}, registrationFailure(identity, "indexes", err)
	}

	if !r.state.AddOracle(types.Oracle{Address: identity, Indexes: indexes}) {
		return types.IndexSet{}, errorsmod.Wrapf(types.ErrRegistrationFailure, "%s is already registered", identity.Hex())
	}

	return indexes, nil
}

// Indexes returns the index set the ledger assigned to a tracked identity.
// The set never changes after registration, so it is served from the roster.
func (r *Registry) Indexes(_ context.Context, identity common.Address) (types.IndexSet, error) {
	oracle, ok := r.state.Oracle(identity)
	if !ok {
		return types.IndexSet{}, errorsmod.Wrap(types.ErrUnknownOracle, identity.Hex())
	}

	return oracle.Indexes, nil
}

// registrationFailure keeps cause in the chain so callers can still tell a
// ledger rejection from a transport failure.
func registrationFailure(identity common.Address, step string, cause error) error {
	return fmt.Errorf("%w: %s: %s: %w", types.ErrRegistrationFailure, identity.Hex(), step, cause)
}

// RegisterAll registers identities in order and returns how many are now
// tracked. Failed identities are logged and left out of the roster. With
// adopt set, identities already registered on the ledger are picked up
// without paying again.
func (r *Registry) RegisterAll(ctx context.Context, identities []common.Address, adopt bool) int {
	count := 0
	for _, identity := range identities {
		if err := ctx.Err(); err != nil {
			log.Warnf("oracle registration interrupted: %v", err)
			break
		}

		if adopt {
			if indexes, err := r.Adopt(ctx, identity); err == nil {
				log.Infof("Oracle Adopted: %s indexes: %s", identity.Hex(), indexes)
				count++
				continue
			}
		}

		indexes, err := r.Register(ctx, identity)
		if err != nil {
			if errors.Is(err, types.ErrRegistrationFailure) {
				log.Errorf("failed to register oracle: %v", err)
			} else {
				log.Errorf("unexpected registration error for %s: %v", identity.Hex(), err)
			}
			continue
		}

		log.Infof("Oracle Registered: %s indexes: %s", identity.Hex(), indexes)
		count++
	}

	return count
}
