package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeEVM struct {
	t         *testing.T
	abi       abi.ABI
	block     uint64
	epoch     *big.Int
	committee []common.Address
	proposer  common.Address
	err       error
}

func newFakeEVM(t *testing.T) *fakeEVM {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(validatorSetABI))
	require.NoError(t, err)
	return &fakeEVM{
		t:         t,
		abi:       parsed,
		block:     1234,
		epoch:     big.NewInt(17),
		committee: []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
		proposer:  common.HexToAddress("0x02"),
	}
}

func (f *fakeEVM) BlockNumber(context.Context) (uint64, error) {
	return f.block, f.err
}

func (f *fakeEVM) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	require.NoError(f.t, err)
	switch method.Name {
	case "currentEpoch":
		return method.Outputs.Pack(f.epoch)
	case "getCommittee":
		return method.Outputs.Pack(f.committee)
	case "currentProposer":
		return method.Outputs.Pack(f.proposer)
	}
	return nil, errors.New("unexpected method")
}

var contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")

func TestContractInfo(t *testing.T) {
	evm := newFakeEVM(t)
	contract, err := NewContract(evm, contractAddr)
	require.NoError(t, err)

	info, err := contract.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1234), info.BlockNumber)
	require.Equal(t, uint64(17), info.Epoch)
	require.Equal(t, common.HexToAddress("0x02"), info.Proposer)
	require.Equal(t, 2, info.CommitteeSize)

	member, err := contract.IsCommitteeMember(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	require.True(t, member)
	member, err = contract.IsCommitteeMember(context.Background(), common.HexToAddress("0x03"))
	require.NoError(t, err)
	require.False(t, member)
}

func TestEpochOverflow(t *testing.T) {
	evm := newFakeEVM(t)
	evm.epoch = new(big.Int).Lsh(big.NewInt(1), 70)
	contract, err := NewContract(evm, contractAddr)
	require.NoError(t, err)
	_, err = contract.CurrentEpoch(context.Background())
	require.ErrorIs(t, err, ErrEpochOverflow)
}

func TestContractCallErrorsAreWrapped(t *testing.T) {
	evm := newFakeEVM(t)
	boom := errors.New("connection refused")
	evm.err = boom
	contract, err := NewContract(evm, contractAddr)
	require.NoError(t, err)
	_, err = contract.CurrentProposer(context.Background())
	require.ErrorIs(t, err, boom)
	_, err = contract.BlockNumber(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestNewContractValidates(t *testing.T) {
	_, err := NewContract(nil, contractAddr)
	require.Error(t, err)
	_, err = NewContract(newFakeEVM(t), common.Address{})
	require.Error(t, err)
}
