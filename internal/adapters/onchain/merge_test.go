package onchain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var condID = "0x" + strings.Repeat("ab", 32)

type fakeBackend struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	status   uint64
	approved bool
	receipts bool
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if *msg.To == common.HexToAddress(ctfAddress) {
		return erc1155ABI.Methods["isApprovedForAll"].Outputs.Pack(f.approved)
	}
	return erc20ABI.Methods["allowance"].Outputs.Pack(big.NewInt(0))
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(50_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if !f.receipts {
		return nil, errors.New("not found")
	}
	return &types.Receipt{Status: f.status, GasUsed: 95_000}, nil
}

func newTestClient(t *testing.T, b *fakeBackend) *MergeClient {
	t.Helper()
	mc, err := NewMergeClientWithBackend(b, testKey)
	require.NoError(t, err)
	mc.pollEvery = time.Millisecond
	return mc
}

func TestMergePositions_Confirmed(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusSuccessful, receipts: true}
	mc := newTestClient(t, b)

	res, err := mc.MergePositions(context.Background(), condID, decimal.RequireFromString("12.5"), false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, uint64(95_000), res.GasUsed)
	assert.True(t, res.USDCReceived.Equal(decimal.RequireFromString("12.5")))
	assert.NotEmpty(t, res.TxHash)

	require.Len(t, b.sent, 1)
	tx := b.sent[0]
	assert.Equal(t, common.HexToAddress(ctfAddress), *tx.To())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Zero(t, big.NewInt(55_000_000_000).Cmp(tx.GasPrice()))

	args, err := ctfABI.Methods["mergePositions"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(12_500_000).Cmp(args[4].(*big.Int)))
}

func TestMergePositions_Reverted(t *testing.T) {
	b := &fakeBackend{status: types.ReceiptStatusFailed, receipts: true}
	res, err := newTestClient(t, b).MergePositions(context.Background(), condID, decimal.NewFromInt(1), false)
	require.Error(t, err)
	assert.Equal(t, domain.KindExecution, domain.KindOf(err))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "reverted")
}

func TestMergePositions_RejectsBadInput(t *testing.T) {
	b := &fakeBackend{}
	mc := newTestClient(t, b)
	ctx := context.Background()

	_, err := mc.MergePositions(ctx, condID, decimal.NewFromInt(1), true)
	require.Error(t, err)

	_, err = mc.MergePositions(ctx, "0x1234", decimal.NewFromInt(1), false)
	require.Error(t, err)

	_, err = mc.MergePositions(ctx, condID, decimal.Zero, false)
	require.ErrorIs(t, err, domain.ErrZeroSize)

	assert.Empty(t, b.sent)
}

func TestEnsureApprovals_SendsMissing(t *testing.T) {
	b := &fakeBackend{approved: true, status: types.ReceiptStatusSuccessful, receipts: true}
	mc := newTestClient(t, b)

	require.NoError(t, mc.EnsureApprovals(context.Background()))
	// ERC1155 ya aprobado; faltan los dos approve de USDC.e.
	require.Len(t, b.sent, 2)
	for _, tx := range b.sent {
		assert.Equal(t, common.HexToAddress(usdcEAddress), *tx.To())
		assert.Equal(t, approvalGasLimit, tx.Gas())
	}
}

func TestNewMergeClient_Errors(t *testing.T) {
	_, err := NewMergeClient("", testKey)
	require.ErrorIs(t, err, domain.ErrNoCredentials)

	_, err = NewMergeClientWithBackend(&fakeBackend{}, "nothex")
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
}
