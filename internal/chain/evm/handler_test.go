package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbtc-relay/relayer/internal/chain/evm/contracts"
	"github.com/tbtc-relay/relayer/internal/chain/nonce"
	"github.com/tbtc-relay/relayer/internal/deposit"
)

// fakeL1Depositor is an in-memory double for contracts.L1BitcoinDepositor,
// standing in for the real chain so the pre-flight/send/confirm discipline
// in InitializeDeposit/FinalizeDeposit can be exercised without a live RPC
// endpoint (SPEC_FULL.md §8, S1-S6).
type fakeL1Depositor struct {
	callInitializeErr error
	initializeTx      *types.Transaction
	initializeTxErr   error

	callFinalizeValue *big.Int
	callFinalizeErr   error
	finalizeTx        *types.Transaction
	finalizeTxErr     error
	lastFinalizeValue *big.Int

	depositsStatus uint8
	depositsErr    error
}

func (f *fakeL1Depositor) CallInitializeDeposit(opts *bind.CallOpts, fundingTx contracts.FundingTx, reveal contracts.DepositReveal, l2DepositOwner [32]byte) error {
	return f.callInitializeErr
}

func (f *fakeL1Depositor) InitializeDeposit(opts *bind.TransactOpts, fundingTx contracts.FundingTx, reveal contracts.DepositReveal, l2DepositOwner [32]byte) (*types.Transaction, error) {
	if f.initializeTxErr != nil {
		return nil, f.initializeTxErr
	}
	return f.initializeTx, nil
}

func (f *fakeL1Depositor) CallFinalizeDeposit(opts *bind.CallOpts, depositKey *big.Int) (*big.Int, error) {
	if f.callFinalizeErr != nil {
		return nil, f.callFinalizeErr
	}
	return f.callFinalizeValue, nil
}

func (f *fakeL1Depositor) FinalizeDeposit(opts *bind.TransactOpts, depositKey *big.Int) (*types.Transaction, error) {
	f.lastFinalizeValue = opts.Value
	if f.finalizeTxErr != nil {
		return nil, f.finalizeTxErr
	}
	return f.finalizeTx, nil
}

func (f *fakeL1Depositor) Deposits(opts *bind.CallOpts, depositKey *big.Int) (uint8, error) {
	return f.depositsStatus, f.depositsErr
}

type stubNonceSource struct{}

func (stubNonceSource) PendingNonceAt(ctx context.Context, account [20]byte) (uint64, error) {
	return 0, nil
}

func testTx() *types.Transaction {
	return types.NewTransaction(0, common.HexToAddress("0x0000000000000000000000000000000000000001"), big.NewInt(0), 21000, big.NewInt(1), nil)
}

// newTestHandler builds a Handler with every network-facing collaborator
// stubbed: l1Depositor is the caller-supplied fake, confirm always reports a
// successful mine, and the nonce source never touches a real client.
func newTestHandler(t *testing.T, depositor l1BitcoinDepositor) *Handler {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &Handler{
		cfg:         Config{TBTCVaultAddress: "0x0000000000000000000000000000000000000002"},
		privateKey:  key,
		account:     crypto.PubkeyToAddress(key.PublicKey),
		l1ChainID:   big.NewInt(1),
		l1Depositor: depositor,
		l1Nonces:    nonce.NewManager(),
		nonceSource: stubNonceSource{},
		confirm: func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
			return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
		},
	}
}

func TestInitializeDeposit_Success(t *testing.T) {
	dep := &fakeL1Depositor{initializeTx: testTx()}
	h := newTestHandler(t, dep)

	record := sampleRecord()
	record.ID = "123"

	updated, err := h.InitializeDeposit(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, deposit.Initialized, updated.Status)
	require.NotNil(t, updated.Hashes.InitializeTxHash)
	assert.Nil(t, updated.Error)
}

func TestInitializeDeposit_AlreadyInitializedFastForwards(t *testing.T) {
	dep := &fakeL1Depositor{
		callInitializeErr: errors.New("execution reverted: Deposit already initialized"),
	}
	h := newTestHandler(t, dep)

	record := sampleRecord()
	record.ID = "123"

	updated, err := h.InitializeDeposit(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, deposit.Initialized, updated.Status)
	assert.Nil(t, updated.Hashes.InitializeTxHash)
}

func TestInitializeDeposit_PreflightErrorRecordsError(t *testing.T) {
	dep := &fakeL1Depositor{callInitializeErr: errors.New("execution reverted: insufficient funds")}
	h := newTestHandler(t, dep)

	record := sampleRecord()
	record.ID = "123"

	updated, err := h.InitializeDeposit(context.Background(), record)
	assert.Error(t, err)
	assert.Equal(t, deposit.Queued, updated.Status)
	require.NotNil(t, updated.Error)
}

func TestFinalizeDeposit_ForwardsCallStaticValue(t *testing.T) {
	dep := &fakeL1Depositor{
		callFinalizeValue: big.NewInt(1500),
		finalizeTx:        testTx(),
	}
	h := newTestHandler(t, dep)

	record := sampleRecord()
	record.ID = "123"
	record.Status = deposit.Initialized

	updated, err := h.FinalizeDeposit(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, deposit.Finalized, updated.Status)
	require.NotNil(t, dep.lastFinalizeValue)
	assert.Equal(t, big.NewInt(1500), dep.lastFinalizeValue)
}

func TestFinalizeDeposit_ClampsNegativeValueToZero(t *testing.T) {
	dep := &fakeL1Depositor{
		callFinalizeValue: big.NewInt(-5),
		finalizeTx:        testTx(),
	}
	h := newTestHandler(t, dep)

	record := sampleRecord()
	record.ID = "123"
	record.Status = deposit.Initialized

	_, err := h.FinalizeDeposit(context.Background(), record)
	require.NoError(t, err)
	require.NotNil(t, dep.lastFinalizeValue)
	assert.Equal(t, big.NewInt(0), dep.lastFinalizeValue)
}

func TestFinalizeDeposit_AlreadyFinalizedFastForwards(t *testing.T) {
	dep := &fakeL1Depositor{
		callFinalizeErr: errors.New("execution reverted: Deposit already finalized"),
	}
	h := newTestHandler(t, dep)

	record := sampleRecord()
	record.ID = "123"
	record.Status = deposit.Initialized

	updated, err := h.FinalizeDeposit(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, deposit.Finalized, updated.Status)
	assert.Nil(t, updated.Hashes.FinalizeTxHash)
}

func TestCheckDepositStatus_MapsOnChainValue(t *testing.T) {
	dep := &fakeL1Depositor{depositsStatus: 2}
	h := newTestHandler(t, dep)

	status, ok, err := h.CheckDepositStatus(context.Background(), "123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, deposit.Finalized, status)
}

func TestProcessInitializeDeposits_ThrottlesRecentRecords(t *testing.T) {
	dep := &fakeL1Depositor{initializeTx: testTx()}
	h := newTestHandler(t, dep)

	store, err := deposit.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	record := sampleRecord()
	record.ID = "123"
	record.Dates.LastActivityAt = nowMillis()
	require.NoError(t, store.Put(record))

	require.NoError(t, h.ProcessInitializeDeposits(context.Background(), store))

	got, ok, err := store.Get("123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deposit.Queued, got.Status, "a just-touched record must not be retried before the throttle window elapses")
}

func TestProcessInitializeDeposits_RetriesStaleRecords(t *testing.T) {
	dep := &fakeL1Depositor{initializeTx: testTx()}
	h := newTestHandler(t, dep)

	store, err := deposit.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	record := sampleRecord()
	record.ID = "123"
	record.Dates.LastActivityAt = nowMillis() - retryThrottleMillis - 1
	require.NoError(t, store.Put(record))

	require.NoError(t, h.ProcessInitializeDeposits(context.Background(), store))

	got, ok, err := store.Get("123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deposit.Initialized, got.Status)
}

func TestHandleReveal_WritesAndImmediatelyInitializes(t *testing.T) {
	dep := &fakeL1Depositor{initializeTx: testTx()}
	h := newTestHandler(t, dep)

	store, err := deposit.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	ev := &contracts.L2BitcoinDepositorDepositInitialized{
		DepositKey: big.NewInt(123),
		FundingTx: contracts.FundingTx{
			Version:      [4]byte{1, 0, 0, 0},
			InputVector:  []byte{0xaa},
			OutputVector: []byte{0xbb},
			Locktime:     [4]byte{0, 0, 0, 0},
		},
		Reveal: contracts.DepositReveal{
			FundingOutputIndex: 0,
			Depositor:          common.HexToAddress("0x00000000000000000000000000000000000aaa"),
			Vault:              common.HexToAddress("0x0000000000000000000000000000000000bbbb"),
		},
		L2Sender: common.HexToAddress("0x0000000000000000000000000000000000cccc"),
	}

	require.NoError(t, h.handleReveal(context.Background(), store, ev))

	got, ok, err := store.Get("123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deposit.Initialized, got.Status, "a freshly revealed deposit must be initialized immediately, not left QUEUED for the next tick")
	require.NotNil(t, got.Hashes.InitializeTxHash)
}

func TestHandleReveal_DuplicateEventIsNoop(t *testing.T) {
	dep := &fakeL1Depositor{initializeTx: testTx()}
	h := newTestHandler(t, dep)

	store, err := deposit.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	existing := sampleRecord()
	existing.ID = "123"
	existing.Status = deposit.Initialized
	existing.Dates.LastActivityAt = nowMillis()
	require.NoError(t, store.Put(existing))

	ev := &contracts.L2BitcoinDepositorDepositInitialized{
		DepositKey: big.NewInt(123),
		FundingTx: contracts.FundingTx{
			Version:      [4]byte{1, 0, 0, 0},
			InputVector:  []byte{0xaa},
			OutputVector: []byte{0xbb},
			Locktime:     [4]byte{0, 0, 0, 0},
		},
		Reveal: contracts.DepositReveal{
			Depositor: common.HexToAddress("0x00000000000000000000000000000000000aaa"),
			Vault:     common.HexToAddress("0x0000000000000000000000000000000000bbbb"),
		},
	}

	require.NoError(t, h.handleReveal(context.Background(), store, ev))

	got, ok, err := store.Get("123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deposit.Initialized, got.Status, "a duplicate reveal event must not disturb the existing record")
}

func TestIsAlreadyInitialized(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"already initialized", errors.New("execution reverted: Deposit already initialized"), true},
		{"already finalized", errors.New("execution reverted: Deposit already finalized"), true},
		{"unrelated revert", errors.New("execution reverted: insufficient balance"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, isAlreadyInitialized(c.err))
		})
	}
}
