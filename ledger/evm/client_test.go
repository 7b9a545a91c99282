package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"royaltysync/ledger"
)

var (
	paymentAddr = common.HexToAddress("0xFa92A7E7182E3f85e5C058Ce4B2b3d374BF586db")
	royaltyAddr = common.HexToAddress("0x821a9673196681F69c0130714dcff7C70E22B5CE")
	badgeAddr   = common.HexToAddress("0xAdD85e759c8D5711AA88DEFd9a7FfeAeBCE6731C")
)

type callFunc func(method string, args []interface{}) ([]interface{}, error)

type fakeBackend struct {
	t         *testing.T
	contracts contracts
	calls     map[common.Address]callFunc

	mu           sync.Mutex
	sent         []*gethtypes.Transaction
	receiptMiss  int
	receiptState uint64
	estimateErr  error
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	c, err := loadContracts(ABIPaths{})
	if err != nil {
		t.Fatalf("load contracts: %v", err)
	}
	return &fakeBackend{
		t:            t,
		contracts:    c,
		calls:        make(map[common.Address]callFunc),
		receiptState: gethtypes.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) abiFor(addr common.Address) abi.ABI {
	switch addr {
	case paymentAddr:
		return f.contracts.payment
	case badgeAddr:
		return f.contracts.badge
	default:
		return f.contracts.royalty
	}
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	contract := f.abiFor(*msg.To)
	method, err := contract.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	handler, ok := f.calls[*msg.To]
	if !ok {
		return nil, fmt.Errorf("no handler for %s", msg.To.Hex())
	}
	out, err := handler(method.Name, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 50_000, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptMiss > 0 {
		f.receiptMiss--
		return nil, ethereum.NotFound
	}
	return &gethtypes.Receipt{TxHash: hash, Status: f.receiptState, BlockNumber: big.NewInt(10)}, nil
}

func (f *fakeBackend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- gethtypes.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeBackend) Close() {}

func newTestClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client, err := New(context.Background(), backend, Config{
		Contracts:   Addresses{PaymentToken: paymentAddr, RoyaltyToken: royaltyAddr, BadgeRegistry: badgeAddr},
		ConfirmPoll: time.Millisecond,
	}, key)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestBalanceConvertsLedgerUnits(t *testing.T) {
	backend := newFakeBackend(t)
	backend.calls[royaltyAddr] = func(method string, args []interface{}) ([]interface{}, error) {
		if method != "balanceOf" {
			return nil, fmt.Errorf("unexpected %s", method)
		}
		return []interface{}{big.NewInt(12345)}, nil
	}
	client := newTestClient(t, backend)
	bal, err := client.Balance(context.Background(), client.Account())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("unexpected balance %s", bal)
	}
}

func TestOwnerOfBadgeRevertIsNotFound(t *testing.T) {
	backend := newFakeBackend(t)
	holder := common.HexToAddress("0x1000000000000000000000000000000000000001")
	backend.calls[badgeAddr] = func(method string, args []interface{}) ([]interface{}, error) {
		id := args[0].(*big.Int).Uint64()
		if id > 1 {
			return nil, errors.New("execution reverted: ERC721NonexistentToken")
		}
		return []interface{}{holder}, nil
	}
	client := newTestClient(t, backend)
	owner, err := client.OwnerOfBadge(context.Background(), 1)
	if err != nil || owner != holder {
		t.Fatalf("owner of 1 = %s, %v", owner.Hex(), err)
	}
	if _, err := client.OwnerOfBadge(context.Background(), 2); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVestingInfoDecodesTuple(t *testing.T) {
	backend := newFakeBackend(t)
	backend.calls[royaltyAddr] = func(method string, args []interface{}) ([]interface{}, error) {
		vals := []int64{1000000, 1700000000, 31536000, 4, 2, 7884000, 500000, 500000, 1715768000}
		out := make([]interface{}, len(vals))
		for i, v := range vals {
			out[i] = big.NewInt(v)
		}
		return out, nil
	}
	client := newTestClient(t, backend)
	raw, err := client.VestingInfo(context.Background())
	if err != nil {
		t.Fatalf("vesting info: %v", err)
	}
	if !raw.TotalAmount.Equal(decimal.NewFromInt(10000)) || raw.CurrentTranche != 2 || raw.NextReleaseTime != 1715768000 {
		t.Fatalf("unexpected raw tuple %+v", raw)
	}
}

func TestApproveWaitsForReceipt(t *testing.T) {
	backend := newFakeBackend(t)
	backend.receiptMiss = 2
	client := newTestClient(t, backend)
	if err := client.Approve(context.Background(), royaltyAddr, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if *tx.To() != paymentAddr {
		t.Fatalf("approve sent to %s", tx.To().Hex())
	}
	method, err := backend.contracts.payment.MethodById(tx.Data()[:4])
	if err != nil || method.Name != "approve" {
		t.Fatalf("unexpected method %v %v", method, err)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(common.Address) != royaltyAddr || args[1].(*big.Int).Int64() != 50000 {
		t.Fatalf("unexpected approve args %v", args)
	}
	if backend.receiptMiss != 0 {
		t.Fatalf("receipt polling stopped early")
	}
}

func TestClaimBadgeRevertIsNotEligible(t *testing.T) {
	backend := newFakeBackend(t)
	backend.estimateErr = errors.New("execution reverted: not eligible")
	client := newTestClient(t, backend)
	err := client.ClaimBadge(context.Background(), 1)
	if !errors.Is(err, ledger.ErrWriteRejected) || !errors.Is(err, ledger.ErrNotEligible) {
		t.Fatalf("expected rejected+not eligible, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("reverting estimate must not submit")
	}
}

func TestFailedReceiptIsRejected(t *testing.T) {
	backend := newFakeBackend(t)
	backend.receiptState = gethtypes.ReceiptStatusFailed
	client := newTestClient(t, backend)
	err := client.ReleaseVesting(context.Background())
	if !errors.Is(err, ledger.ErrWriteRejected) || !errors.Is(err, ledger.ErrNothingToRelease) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestDecodeTransferLog(t *testing.T) {
	backend := newFakeBackend(t)
	client := newTestClient(t, backend)
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	event := backend.contracts.royalty.Events["Transfer"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(250))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	entry := gethtypes.Log{
		Address: royaltyAddr,
		Topics:  []common.Hash{event.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    data,
	}
	ev, ok, err := client.decode(entry)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if ev.Kind != ledger.EventTransfer || ev.From != from || ev.To != to || !ev.Amount.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDecodeIgnoresForeignContracts(t *testing.T) {
	backend := newFakeBackend(t)
	client := newTestClient(t, backend)
	event := backend.contracts.payment.Events["Transfer"]
	_, ok, err := client.decode(gethtypes.Log{Address: paymentAddr, Topics: []common.Hash{event.ID}})
	if err != nil || ok {
		t.Fatalf("payment token logs must be ignored, ok=%v err=%v", ok, err)
	}
}
