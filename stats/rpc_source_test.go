package stats

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

type livenessService struct {
	payload *LivenessPayload
}

func (s *livenessService) GetLivenessStats(epoch hexutil.Uint64) (*LivenessPayload, error) {
	if s.payload != nil {
		return s.payload, nil
	}
	return &LivenessPayload{
		Epoch: epoch,
		Validators: []LivenessEntry{{
			Address:            "0x00000000000000000000000000000000000000aa",
			TotalSlots:         200,
			MissedAttestations: 12,
			MissedProposals:    1,
			LastAttestationAt:  1_700_000_000,
		}},
	}, nil
}

func dialService(t *testing.T, svc *livenessService) *rpc.Client {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("validator", svc))
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}

func TestRPCSourceDecodesPayload(t *testing.T) {
	client := dialService(t, &livenessService{})
	src := NewRPCSource(client, "")
	snap, err := src.FetchAll(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), snap.Epoch)

	entry, ok := snap.Validators[NormalizeAddress(addrA)]
	require.True(t, ok)
	require.Equal(t, uint64(200), entry.TotalSlots)
	require.Equal(t, uint64(12), entry.MissedAttestations)
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), entry.LastAttestationAt)
	require.True(t, entry.LastProposalAt.IsZero())
	require.InDelta(t, 6.0, MissPercentage(entry), 1e-9)
}

func TestRPCSourceRejectsMalformedPayloads(t *testing.T) {
	client := dialService(t, &livenessService{payload: &LivenessPayload{
		Epoch:      5,
		Validators: []LivenessEntry{{Address: "not-an-address"}},
	}})
	_, err := NewRPCSource(client, DefaultMethod).FetchAll(context.Background(), 5)
	require.ErrorIs(t, err, ErrMalformedStats)

	_, err = NewRPCSource(client, DefaultMethod).FetchAll(context.Background(), 6)
	require.ErrorIs(t, err, ErrMalformedStats)
}

func TestRPCSourceRejectsOverflowingTimestamps(t *testing.T) {
	for name, entry := range map[string]LivenessEntry{
		"attestation": {Address: addrA, TotalSlots: 10, LastAttestationAt: hexutil.Uint64(math.MaxInt64) + 1},
		"proposal":    {Address: addrA, TotalSlots: 10, LastProposalAt: hexutil.Uint64(math.MaxUint64)},
	} {
		t.Run(name, func(t *testing.T) {
			client := dialService(t, &livenessService{payload: &LivenessPayload{Epoch: 3, Validators: []LivenessEntry{entry}}})
			_, err := NewRPCSource(client, "").FetchAll(context.Background(), 3)
			require.ErrorIs(t, err, ErrMalformedStats)
		})
	}
}

func TestRPCSourceUnknownMethod(t *testing.T) {
	client := dialService(t, &livenessService{})
	_, err := NewRPCSource(client, "validator_nope").FetchAll(context.Background(), 1)
	require.Error(t, err)
}

func TestCacheOverRPCSource(t *testing.T) {
	client := dialService(t, &livenessService{})
	cache := NewCache(NewRPCSource(client, DefaultMethod))
	got, err := cache.Fetch(context.Background(), "0x00000000000000000000000000000000000000AA", 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.Epoch)
	require.True(t, Healthy(got))
}
