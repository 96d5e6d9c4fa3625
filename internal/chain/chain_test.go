package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	swapAddr   = "0x00000000000000000000000000000000000000aa"
	batchAddr  = "0x00000000000000000000000000000000000000bb"
	usdcAddr   = "0x00000000000000000000000000000000000000cc"
	nftAddr    = "0x00000000000000000000000000000000000000dd"
	sellerAddr = "0x1111111111111111111111111111111111111111"
	buyerAddr  = "0x2222222222222222222222222222222222222222"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrder() domain.Order {
	return domain.Order{
		Nonce:  "7",
		Expiry: "1900000000",
		Signer: domain.Party{
			Wallet: sellerAddr,
			Token:  nftAddr,
			Kind:   domain.KindERC721,
			ID:     "42",
			Amount: "0",
		},
		Sender: domain.Party{
			Token:  usdcAddr,
			Kind:   domain.KindERC20,
			ID:     "0",
			Amount: "1000000",
		},
		AffiliateAmount: "0",
		ProtocolFee:     "300",
		ChainID:         1,
		SwapContract:    swapAddr,
		V:               "27",
		R:               "0x" + strings.Repeat("ab", 32),
		S:               "0x" + strings.Repeat("cd", 32),
	}
}

// fakeBackend answers contract calls from canned outputs keyed by method.
type fakeBackend struct {
	mu          sync.Mutex
	outputs     map[string][]any
	calls       []string
	callErr     error
	estimateErr error
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		outputs:  make(map[string][]any),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	for _, a := range []abi.ABI{parsedSwapABI, parsedBatchCallABI, parsedERC20ABI} {
		m, err := a.MethodById(msg.Data[:4])
		if err != nil {
			continue
		}
		f.calls = append(f.calls, m.Name)
		return m.Outputs.Pack(f.outputs[m.Name]...)
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) setReceipt(h string, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[common.HexToHash(h)] = &types.Receipt{Status: status, BlockNumber: big.NewInt(9)}
}

// fakeSigner returns transactions unsigned; the fake backend does not verify.
type fakeSigner struct{ addr common.Address }

func (s fakeSigner) Address() common.Address { return s.addr }

func (s fakeSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) { return tx, nil }

func newTestClient(t *testing.T, b Backend) *Client {
	t.Helper()
	c, err := NewClient(b, Config{
		ChainID:           1,
		SwapContract:      swapAddr,
		BatchCallContract: batchAddr,
		RequestTimeout:    time.Second,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func reason(s string) [32]byte {
	var b [32]byte
	copy(b[:], s)
	return b
}

func TestCheckOrderDecodesReasons(t *testing.T) {
	b := newFakeBackend()
	b.outputs["check"] = []any{
		big.NewInt(2),
		[][32]byte{reason("SignatureInvalid"), reason("NonceAlreadyUsed"), {}},
	}
	c := newTestClient(t, b)

	got, err := c.CheckOrder(context.Background(), testOrder(), buyerAddr)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"SignatureInvalid", "NonceAlreadyUsed"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCheckOrderFillable(t *testing.T) {
	b := newFakeBackend()
	b.outputs["check"] = []any{big.NewInt(0), [][32]byte{{}, {}}}
	c := newTestClient(t, b)

	got, err := c.CheckOrder(context.Background(), testOrder(), buyerAddr)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want none", got)
	}
}

func TestCheckOrderRejectsMalformedOrder(t *testing.T) {
	c := newTestClient(t, newFakeBackend())
	o := testOrder()
	o.R = "0x1234"
	if _, err := c.CheckOrder(context.Background(), o, buyerAddr); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestNonceUsedAndBatchValidity(t *testing.T) {
	b := newFakeBackend()
	b.outputs["nonceUsed"] = []any{true}
	b.outputs["checkOrders"] = []any{[]bool{true, false}}
	c := newTestClient(t, b)
	ctx := context.Background()

	used, err := c.NonceUsed(ctx, testOrder())
	if err != nil {
		t.Fatal(err)
	}
	if !used {
		t.Fatal("expected nonce used")
	}

	valid, err := c.OrdersValid(ctx, []domain.Order{testOrder(), testOrder()})
	if err != nil {
		t.Fatal(err)
	}
	if len(valid) != 2 || !valid[0] || valid[1] {
		t.Fatalf("valid = %v", valid)
	}

	if _, err := c.OrdersValid(ctx, []domain.Order{testOrder()}); err == nil {
		t.Fatal("expected error on result length mismatch")
	}
}

func TestAllowanceAndBalance(t *testing.T) {
	b := newFakeBackend()
	b.outputs["allowance"] = []any{big.NewInt(500)}
	b.outputs["balanceOf"] = []any{big.NewInt(9000)}
	c := newTestClient(t, b)
	ctx := context.Background()

	a, err := c.Allowance(ctx, usdcAddr, buyerAddr)
	if err != nil {
		t.Fatal(err)
	}
	if a.Int64() != 500 {
		t.Fatalf("allowance = %s", a)
	}
	bal, err := c.BalanceOf(ctx, usdcAddr, buyerAddr)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Int64() != 9000 {
		t.Fatalf("balance = %s", bal)
	}
	if _, err := c.BalanceOf(ctx, "not-an-address", buyerAddr); err == nil {
		t.Fatal("expected error for bad token")
	}
}

func TestSendBuildsDynamicFeeTx(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b)
	signer := fakeSigner{addr: common.HexToAddress(buyerAddr)}

	hash, err := c.sendSwap(context.Background(), signer, testOrder())
	if err != nil {
		t.Fatal(err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("sent %d txs", len(b.sent))
	}
	tx := b.sent[0]
	if tx.Hash() != hash {
		t.Fatal("returned hash does not match sent tx")
	}
	if tx.Type() != types.DynamicFeeTxType {
		t.Fatalf("tx type = %d", tx.Type())
	}
	if *tx.To() != common.HexToAddress(swapAddr) {
		t.Fatalf("to = %s", tx.To().Hex())
	}
	// tip 2 + 2 * base fee 10
	if tx.GasFeeCap().Int64() != 22 {
		t.Fatalf("fee cap = %s", tx.GasFeeCap())
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("gas = %d", tx.Gas())
	}
	m, err := parsedSwapABI.MethodById(tx.Data()[:4])
	if err != nil || m.Name != "swap" {
		t.Fatalf("method = %v, %v", m, err)
	}
}

func TestSendSurfacesUserRejection(t *testing.T) {
	b := newFakeBackend()
	b.estimateErr = errors.New("User denied transaction signature")
	c := newTestClient(t, b)

	_, err := c.sendApproval(context.Background(), fakeSigner{addr: common.HexToAddress(buyerAddr)}, usdcAddr)
	if !errors.Is(err, domain.ErrUserRejected) {
		t.Fatalf("err = %v, want ErrUserRejected", err)
	}
}

type codedError struct{ code int }

func (e codedError) Error() string  { return "request failed" }
func (e codedError) ErrorCode() int { return e.code }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{"nil", nil, false},
		{"sentinel", domain.ErrUserRejected, true},
		{"code 4001", codedError{code: 4001}, true},
		{"other code", codedError{code: -32000}, false},
		{"message", errors.New("MetaMask: User rejected the request"), true},
		{"revert", errors.New("execution reverted"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			if errors.Is(got, domain.ErrUserRejected) != tt.rejected {
				t.Fatalf("classifyError(%v) = %v", tt.err, got)
			}
		})
	}
}

func TestToSwapOrder(t *testing.T) {
	tuple, err := toSwapOrder(testOrder())
	if err != nil {
		t.Fatal(err)
	}
	if tuple.Signer.Kind != [4]byte{0x80, 0xac, 0x58, 0xcd} {
		t.Fatalf("kind = %x", tuple.Signer.Kind)
	}
	if tuple.Sender.Wallet != (common.Address{}) {
		t.Fatal("empty sender wallet should be the zero address")
	}
	if tuple.V != 27 || tuple.Signer.Id.Int64() != 42 {
		t.Fatalf("tuple = %+v", tuple)
	}

	bad := []func(o *domain.Order){
		func(o *domain.Order) { o.Nonce = "-1" },
		func(o *domain.Order) { o.Signer.Wallet = "" },
		func(o *domain.Order) { o.Signer.Kind = "0x01" },
		func(o *domain.Order) { o.V = "300" },
		func(o *domain.Order) { o.S = "zz" },
		func(o *domain.Order) { o.Sender.Amount = "1e6" },
	}
	for i, mutate := range bad {
		o := testOrder()
		mutate(&o)
		if _, err := toSwapOrder(o); !errors.Is(err, domain.ErrInvalidOrder) {
			t.Errorf("case %d: err = %v, want ErrInvalidOrder", i, err)
		}
	}
}

func TestDecodeCheckErrors(t *testing.T) {
	reasons := [][32]byte{reason("A"), reason("B")}
	if got := decodeCheckErrors(big.NewInt(5), reasons); len(got) != 2 {
		t.Fatalf("count beyond length: got %v", got)
	}
	if got := decodeCheckErrors(big.NewInt(1), reasons); len(got) != 1 || got[0] != "A" {
		t.Fatalf("got %v", got)
	}
	if got := decodeCheckErrors(big.NewInt(0), reasons); got != nil {
		t.Fatalf("got %v", got)
	}
}
