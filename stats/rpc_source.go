package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultMethod is the JSON-RPC method returning every validator's liveness counters.
const DefaultMethod = "validator_getLivenessStats"

// ErrMalformedStats is returned when the upstream payload cannot be interpreted.
var ErrMalformedStats = errors.New("stats: malformed upstream payload")

// Caller is the JSON-RPC surface used by RPCSource. *rpc.Client satisfies it.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// LivenessEntry is the wire form of one validator's counters. Timestamps are unix seconds.
type LivenessEntry struct {
	Address            string         `json:"address"`
	TotalSlots         hexutil.Uint64 `json:"totalSlots"`
	MissedAttestations hexutil.Uint64 `json:"missedAttestations"`
	MissedProposals    hexutil.Uint64 `json:"missedProposals"`
	LastAttestationAt  hexutil.Uint64 `json:"lastAttestationAt"`
	LastProposalAt     hexutil.Uint64 `json:"lastProposalAt"`
}

// LivenessPayload is the wire form of the stats method result.
type LivenessPayload struct {
	Epoch      hexutil.Uint64  `json:"epoch"`
	Validators []LivenessEntry `json:"validators"`
}

// RPCSource fetches epoch snapshots over JSON-RPC.
type RPCSource struct {
	caller Caller
	method string
}

// NewRPCSource wraps caller. An empty method falls back to DefaultMethod.
func NewRPCSource(caller Caller, method string) *RPCSource {
	method = strings.TrimSpace(method)
	if method == "" {
		method = DefaultMethod
	}
	return &RPCSource{caller: caller, method: method}
}

// DialRPCSource connects to url and returns a source plus the client to close.
func DialRPCSource(ctx context.Context, url, method string) (*RPCSource, *rpc.Client, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("stats: dial rpc: %w", err)
	}
	return NewRPCSource(client, method), client, nil
}

// FetchAll implements Source.
func (s *RPCSource) FetchAll(ctx context.Context, epoch uint64) (Snapshot, error) {
	var payload *LivenessPayload
	if err := s.caller.CallContext(ctx, &payload, s.method, hexutil.Uint64(epoch)); err != nil {
		return Snapshot{}, fmt.Errorf("call %s: %w", s.method, err)
	}
	if payload == nil {
		return Snapshot{}, fmt.Errorf("%w: empty result", ErrMalformedStats)
	}
	if uint64(payload.Epoch) != epoch {
		return Snapshot{}, fmt.Errorf("%w: requested epoch %d, got %d", ErrMalformedStats, epoch, uint64(payload.Epoch))
	}
	snap := Snapshot{Epoch: epoch, Validators: make(map[string]ValidatorStats, len(payload.Validators))}
	for _, entry := range payload.Validators {
		if !common.IsHexAddress(entry.Address) {
			return Snapshot{}, fmt.Errorf("%w: invalid address %q", ErrMalformedStats, entry.Address)
		}
		if entry.MissedAttestations > entry.TotalSlots {
			return Snapshot{}, fmt.Errorf("%w: %s missed more slots than it was assigned", ErrMalformedStats, entry.Address)
		}
		addr := common.HexToAddress(entry.Address).Hex()
		lastAttestation, err := unixOrZero(uint64(entry.LastAttestationAt))
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s last attestation: %v", ErrMalformedStats, addr, err)
		}
		lastProposal, err := unixOrZero(uint64(entry.LastProposalAt))
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s last proposal: %v", ErrMalformedStats, addr, err)
		}
		snap.Validators[NormalizeAddress(addr)] = ValidatorStats{
			Address:            addr,
			Epoch:              epoch,
			TotalSlots:         uint64(entry.TotalSlots),
			MissedAttestations: uint64(entry.MissedAttestations),
			MissedProposals:    uint64(entry.MissedProposals),
			LastAttestationAt:  lastAttestation,
			LastProposalAt:     lastProposal,
		}
	}
	return snap, nil
}

func unixOrZero(sec uint64) (time.Time, error) {
	if sec == 0 {
		return time.Time{}, nil
	}
	if sec > math.MaxInt64 {
		return time.Time{}, fmt.Errorf("timestamp %d out of range", sec)
	}
	return time.Unix(int64(sec), 0).UTC(), nil
}
