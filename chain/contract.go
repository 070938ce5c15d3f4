package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
)

// validatorSetABI covers the read-only accessors used by the bot.
const validatorSetABI = `[
	{"type":"function","name":"currentEpoch","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getCommittee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"currentProposer","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// ErrEpochOverflow is returned when the contract reports an epoch beyond uint64.
var ErrEpochOverflow = errors.New("chain: epoch exceeds uint64")

// EVMClient is the subset of the Ethereum RPC used by Contract.
type EVMClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial connects to an Ethereum-compatible JSON-RPC endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// Contract reads validator-set state from the staking contract.
type Contract struct {
	client  EVMClient
	address common.Address
	abi     abi.ABI
}

// Info summarises chain state for display.
type Info struct {
	BlockNumber   uint64
	Epoch         uint64
	Proposer      common.Address
	CommitteeSize int
}

// NewContract binds the accessors to address.
func NewContract(client EVMClient, address common.Address) (*Contract, error) {
	if client == nil {
		return nil, fmt.Errorf("chain: client required")
	}
	if (address == common.Address{}) {
		return nil, fmt.Errorf("chain: contract address required")
	}
	parsed, err := abi.JSON(strings.NewReader(validatorSetABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	return &Contract{client: client, address: address, abi: parsed}, nil
}

// BlockNumber returns the latest block height.
func (c *Contract) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// CurrentEpoch returns the epoch reported by the contract.
func (c *Contract) CurrentEpoch(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "currentEpoch")
	if err != nil {
		return 0, err
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: currentEpoch returned %T", out[0])
	}
	value, overflow := uint256.FromBig(raw)
	if overflow || !value.IsUint64() {
		return 0, ErrEpochOverflow
	}
	return value.Uint64(), nil
}

// Committee returns the active committee addresses.
func (c *Contract) Committee(ctx context.Context) ([]common.Address, error) {
	out, err := c.call(ctx, "getCommittee")
	if err != nil {
		return nil, err
	}
	members, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("chain: getCommittee returned %T", out[0])
	}
	return members, nil
}

// IsCommitteeMember reports whether address sits on the active committee.
func (c *Contract) IsCommitteeMember(ctx context.Context, address common.Address) (bool, error) {
	members, err := c.Committee(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == address {
			return true, nil
		}
	}
	return false, nil
}

// CurrentProposer returns the proposer of the current slot.
func (c *Contract) CurrentProposer(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, "currentProposer")
	if err != nil {
		return common.Address{}, err
	}
	proposer, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: currentProposer returned %T", out[0])
	}
	return proposer, nil
}

// Info gathers block number, epoch, proposer and committee size.
func (c *Contract) Info(ctx context.Context) (Info, error) {
	var info Info
	var err error
	if info.BlockNumber, err = c.BlockNumber(ctx); err != nil {
		return Info{}, err
	}
	if info.Epoch, err = c.CurrentEpoch(ctx); err != nil {
		return Info{}, err
	}
	if info.Proposer, err = c.CurrentProposer(ctx); err != nil {
		return Info{}, err
	}
	committee, err := c.Committee(ctx)
	if err != nil {
		return Info{}, err
	}
	info.CommitteeSize = len(committee)
	return info, nil
}

func (c *Contract) call(ctx context.Context, method string) ([]any, error) {
	data, err := c.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	to := c.address
	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s returned no values", method)
	}
	return out, nil
}
