package evm

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
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	coreerrors "afrochain/core/errors"
	"afrochain/ledger"
)

// fakeChain mines every submitted transaction into its own block.
type fakeChain struct {
	mu       sync.Mutex
	chainID  *big.Int
	head     int64
	extra    int64
	receipts map[common.Hash]*gethtypes.Receipt
	sent     []*gethtypes.Transaction
	sendErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{chainID: big.NewInt(1337), head: 10, receipts: make(map[common.Hash]*gethtypes.Receipt)}
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18)), nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 150000, nil }

func (f *fakeChain) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head++
	receipt := &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(f.head),
	}
	if tx.To() == nil {
		receipt.ContractAddress = gethcrypto.CreateAddress(from, tx.Nonce())
	}
	f.receipts[tx.Hash()] = receipt
	f.sent = append(f.sent, tx)
	f.head += f.extra
	return nil
}

func (f *fakeChain) TransactionByHash(_ context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return tx, false, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &gethtypes.Header{Number: big.NewInt(f.head)}, nil
}

func testKey(t *testing.T) string {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	return "0x" + common.Bytes2Hex(gethcrypto.FromECDSA(key))
}

func newTestAdapter(t *testing.T, chain *fakeChain, confirmations uint64) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(context.Background(), chain, Options{Confirmations: confirmations, PollInterval: time.Millisecond})
	require.NoError(t, err)
	return adapter
}

var recipient = "0x" + strings.Repeat("12", 20)

func TestTransferWaitsForReceipt(t *testing.T) {
	chain := newFakeChain()
	adapter := newTestAdapter(t, chain, 1)

	res := adapter.Transfer(context.Background(), recipient, decimal.RequireFromString("0.25"), &ledger.SigningContext{PrivateKey: testKey(t)})
	require.True(t, res.Success, "%+v", res.Error)
	require.Equal(t, "11", res.BlockOrConsensusRef)
	require.Len(t, chain.sent, 1)
	require.Equal(t, "250000000000000000", chain.sent[0].Value().String())
	require.Equal(t, transferGas, chain.sent[0].Gas())

	status, err := adapter.Status(context.Background(), res.TransactionRef)
	require.NoError(t, err)
	require.Equal(t, ledger.TxConfirmed, status.State)
	require.EqualValues(t, 1, status.Confirmations)
}

func TestTransferErrorsAreData(t *testing.T) {
	chain := newFakeChain()
	adapter := newTestAdapter(t, chain, 1)
	ctx := context.Background()

	res := adapter.Transfer(ctx, recipient, decimal.NewFromInt(1), nil)
	require.Equal(t, coreerrors.KindCredential, res.Error.Kind)

	res = adapter.Transfer(ctx, recipient, decimal.NewFromInt(1), &ledger.SigningContext{PrivateKey: "zz"})
	require.Equal(t, coreerrors.KindCredential, res.Error.Kind)

	chain.sendErr = errors.New("connection refused")
	res = adapter.Transfer(ctx, recipient, decimal.NewFromInt(1), &ledger.SigningContext{PrivateKey: testKey(t)})
	require.False(t, res.Success)
	require.Equal(t, coreerrors.KindNetwork, res.Error.Kind)
}

func TestTransferHonoursDeadline(t *testing.T) {
	chain := newFakeChain()
	adapter := newTestAdapter(t, chain, 50)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := adapter.Transfer(ctx, recipient, decimal.NewFromInt(1), &ledger.SigningContext{PrivateKey: testKey(t)})
	require.False(t, res.Success)
	require.Equal(t, coreerrors.KindNetwork, res.Error.Kind)
}

func TestStatusUnknownHash(t *testing.T) {
	adapter := newTestAdapter(t, newFakeChain(), 1)
	_, err := adapter.Status(context.Background(), common.Hash{1}.Hex())
	require.True(t, errors.Is(err, coreerrors.ErrNotFound))
	_, err = adapter.Status(context.Background(), "0x12")
	require.True(t, errors.Is(err, coreerrors.ErrValidation))
}

func TestEscrowDeployAndRelease(t *testing.T) {
	chain := newFakeChain()
	adapter := newTestAdapter(t, chain, 1)
	escrow, err := NewEscrow(adapter, testKey(t), []byte{0x60, 0x80, 0x60, 0x40})
	require.NoError(t, err)
	ctx := context.Background()

	receipt, err := escrow.Deploy(ctx, ledger.EscrowTerms{
		Farmer:       recipient,
		Arbiter:      "0x" + strings.Repeat("34", 20),
		Amount:       decimal.RequireFromString("1.5"),
		AutoRefundAt: time.Unix(1_700_000_000, 0),
	})
	require.NoError(t, err)
	require.NotEqual(t, (common.Address{}).Hex(), receipt.Address)
	require.Nil(t, chain.sent[0].To())
	require.Equal(t, []byte{0x60, 0x80, 0x60, 0x40}, chain.sent[0].Data()[:4])

	ref, err := escrow.Release(ctx, receipt.Address)
	require.NoError(t, err)
	require.Len(t, ref, 66)
	require.Equal(t, common.HexToAddress(receipt.Address), *chain.sent[1].To())
	require.Equal(t, escrow.abi.Methods["release"].ID, chain.sent[1].Data()[:4])
}

func TestToWeiBounds(t *testing.T) {
	wei, err := ToWei(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	require.Equal(t, "1500000000000000000", wei.String())

	_, err = ToWei(decimal.RequireFromString("0.0000000000000000001"))
	require.Error(t, err)
	_, err = ToWei(decimal.RequireFromString("1e80"))
	require.Error(t, err)
	_, err = ToWei(decimal.Zero)
	require.Error(t, err)

	require.Equal(t, "1.5", FromWei(wei).String())
}

func TestMalformedHexAddressesNeverSend(t *testing.T) {
	chain := newFakeChain()
	adapter := newTestAdapter(t, chain, 1)
	ctx := context.Background()
	signer := &ledger.SigningContext{PrivateKey: testKey(t)}

	for _, to := range []string{
		"0x" + strings.Repeat("zz", 20),
		"0x" + strings.Repeat("ab", 24),
		"0x" + strings.Repeat("12", 20) + "!",
	} {
		require.True(t, adapter.ValidateAddress(to), to)
		res := adapter.Transfer(ctx, to, decimal.NewFromInt(1), signer)
		require.False(t, res.Success, to)
		require.Equal(t, coreerrors.KindValidation, res.Error.Kind, to)

		_, err := adapter.Balance(ctx, to)
		require.True(t, errors.Is(err, coreerrors.ErrValidation), to)
	}
	require.Empty(t, chain.sent)
}

func TestEscrowDeployRejectsMalformedParties(t *testing.T) {
	chain := newFakeChain()
	adapter := newTestAdapter(t, chain, 1)
	escrow, err := NewEscrow(adapter, testKey(t), []byte{0x60, 0x80, 0x60, 0x40})
	require.NoError(t, err)
	ctx := context.Background()
	bad := "0x" + strings.Repeat("zz", 20)
	good := "0x" + strings.Repeat("34", 20)

	for name, terms := range map[string]ledger.EscrowTerms{
		"buyer":   {Buyer: bad, Farmer: recipient, Arbiter: good},
		"farmer":  {Farmer: bad, Arbiter: good},
		"arbiter": {Farmer: recipient, Arbiter: "0x" + strings.Repeat("34", 25)},
	} {
		terms.Amount = decimal.NewFromInt(1)
		terms.AutoRefundAt = time.Unix(1_700_000_000, 0)
		_, err := escrow.Deploy(ctx, terms)
		require.True(t, errors.Is(err, coreerrors.ErrValidation), "%s: %v", name, err)
	}
	_, err = escrow.Release(ctx, bad)
	require.True(t, errors.Is(err, coreerrors.ErrValidation), "%v", err)
	require.Empty(t, chain.sent)
}
