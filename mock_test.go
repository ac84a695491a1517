package swapmm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/lightswap/swapmm/swap"
	"github.com/lightswap/swapmm/swapdb"
)

var (
	testChainID = "testchain"

	testIntermediaryAddr = common.HexToAddress(
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	)
	testNativeToken = common.HexToAddress(
		"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	)
	testOutputToken = common.HexToAddress(
		"0x1111111111111111111111111111111111111111",
	)
	testClaimerAddr = common.HexToAddress(
		"0x2222222222222222222222222222222222222222",
	)
)

// encodePayReq creates and signs a real payment request so that invoice
// decoding in the code under test works on mock invoices.
func encodePayReq(hash lntypes.Hash, amt btcutil.Amount, memo string,
	cltvDelta int32) (string, error) {

	payReq, err := zpay32.NewInvoice(
		&chaincfg.TestNet3Params, hash, time.Now(),
		zpay32.Description(memo),
		zpay32.CLTVExpiry(uint64(cltvDelta)),
		zpay32.Amount(lnwire.MilliSatoshi(1000*amt)),
	)
	if err != nil {
		return "", err
	}

	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}

	return payReq.Encode(
		zpay32.MessageSigner{
			SignCompact: func(hash []byte) ([]byte, error) {
				// ecdsa.SignCompact returns a
				// pubkey-recoverable signature.
				return ecdsa.SignCompact(
					privKey, hash, true,
				), nil
			},
		},
	)
}

type mockLightningNode struct {
	mu sync.Mutex

	height   int32
	channels []Channel

	invoices    map[lntypes.Hash]*Invoice
	subscribers map[lntypes.Hash]chan *Invoice
	settled     map[lntypes.Hash]lntypes.Preimage
	canceled    map[lntypes.Hash]bool

	settleErr error

	// subscribeGate, when set, stalls SubscribeInvoice until the channel
	// is closed, forcing updates to land before the subscription.
	subscribeGate chan struct{}
}

func newMockLightningNode() *mockLightningNode {
	return &mockLightningNode{
		height: 600_000,
		channels: []Channel{
			{
				ChannelID:     1,
				LocalBalance:  1_000_000,
				RemoteBalance: 5_000_000,
				Active:        true,
			},
		},
		invoices:    make(map[lntypes.Hash]*Invoice),
		subscribers: make(map[lntypes.Hash]chan *Invoice),
		settled:     make(map[lntypes.Hash]lntypes.Preimage),
		canceled:    make(map[lntypes.Hash]bool),
	}
}

func (m *mockLightningNode) AddHoldInvoice(_ context.Context,
	hash lntypes.Hash, amt btcutil.Amount, memo string, cltvDelta int32,
	_ time.Duration) (string, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	payReq, err := encodePayReq(hash, amt, memo, cltvDelta)
	if err != nil {
		return "", err
	}

	m.invoices[hash] = &Invoice{
		PaymentRequest: payReq,
		Hash:           hash,
		State:          InvoiceOpen,
	}

	return payReq, nil
}

func (m *mockLightningNode) LookupInvoice(_ context.Context,
	hash lntypes.Hash) (*Invoice, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[hash]
	if !ok {
		return nil, nil
	}

	inv := *invoice
	return &inv, nil
}

func (m *mockLightningNode) SubscribeInvoice(_ context.Context,
	hash lntypes.Hash) (<-chan *Invoice, <-chan error, error) {

	m.mu.Lock()
	gate := m.subscribeGate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[hash]
	if !ok {
		return nil, nil, errors.New("unknown invoice")
	}

	updates := make(chan *Invoice, 8)
	m.subscribers[hash] = updates

	// The current state is replayed as the first update.
	inv := *invoice
	updates <- &inv

	return updates, make(chan error, 1), nil
}

func (m *mockLightningNode) CancelInvoice(_ context.Context,
	hash lntypes.Hash) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	invoice, ok := m.invoices[hash]
	if !ok {
		return errors.New("unknown invoice")
	}
	if invoice.State == InvoiceSettled {
		return errors.New("invoice already settled")
	}

	invoice.State = InvoiceCanceled
	m.canceled[hash] = true
	m.notify(invoice)

	return nil
}

func (m *mockLightningNode) SettleInvoice(_ context.Context,
	preimage lntypes.Preimage) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settleErr != nil {
		return m.settleErr
	}

	hash := preimage.Hash()
	invoice, ok := m.invoices[hash]
	if !ok {
		return errors.New("unknown invoice")
	}
	if invoice.State != InvoiceAccepted {
		return errors.New("invoice not accepted")
	}

	invoice.State = InvoiceSettled
	m.settled[hash] = preimage
	m.notify(invoice)

	return nil
}

func (m *mockLightningNode) ListChannels(_ context.Context, _ bool) (
	[]Channel, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.channels, nil
}

func (m *mockLightningNode) GetBlockHeight(_ context.Context) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.height, nil
}

// acceptHtlc simulates the payer's htlc locking in with the given absolute
// timeout height.
func (m *mockLightningNode) acceptHtlc(hash lntypes.Hash,
	expiryHeight int32) {

	m.mu.Lock()
	defer m.mu.Unlock()

	invoice := m.invoices[hash]
	invoice.State = InvoiceAccepted
	invoice.HtlcExpiryHeight = expiryHeight
	m.notify(invoice)
}

// gateSubscribe stalls future invoice subscriptions until the returned
// channel is closed.
func (m *mockLightningNode) gateSubscribe() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribeGate = make(chan struct{})
	return m.subscribeGate
}

func (m *mockLightningNode) setChannels(channels []Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.channels = channels
}

func (m *mockLightningNode) setSettleErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settleErr = err
}

func (m *mockLightningNode) isCanceled(hash lntypes.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.canceled[hash]
}

func (m *mockLightningNode) settledPreimage(hash lntypes.Hash) (
	lntypes.Preimage, bool) {

	m.mu.Lock()
	defer m.mu.Unlock()

	preimage, ok := m.settled[hash]
	return preimage, ok
}

// notify pushes the update to the invoice's subscriber. Caller holds the
// mutex.
func (m *mockLightningNode) notify(invoice *Invoice) {
	if updates, ok := m.subscribers[invoice.Hash]; ok {
		inv := *invoice
		updates <- &inv
	}
}

type mockChainClient struct {
	mu sync.Mutex

	chainID string

	balance   *big.Int
	refundFee *big.Int

	// statuses is a per escrow queue of live statuses to hand out; the
	// last element repeats once the queue drains.
	statuses map[common.Hash][]*CommitStatus

	refunds map[common.Hash]int
}

func newMockChainClient() *mockChainClient {
	return &mockChainClient{
		chainID:   testChainID,
		balance:   big.NewInt(10_000_000),
		refundFee: big.NewInt(250),
		statuses:  make(map[common.Hash][]*CommitStatus),
		refunds:   make(map[common.Hash]int),
	}
}

func (m *mockChainClient) ChainID() string {
	return m.chainID
}

func (m *mockChainClient) Address() common.Address {
	return testIntermediaryAddr
}

func (m *mockChainClient) NativeToken() common.Address {
	return testNativeToken
}

func (m *mockChainClient) NewEscrow(payee, token common.Address,
	amount *big.Int, claimHash common.Hash, sequence uint64,
	expiry int64) (*swapdb.EscrowData, error) {

	return &swapdb.EscrowData{
		Payer:     testIntermediaryAddr,
		Payee:     payee,
		Token:     token,
		Amount:    new(big.Int).Set(amount),
		ClaimHash: claimHash,
		Sequence:  sequence,
		Expiry:    expiry,
	}, nil
}

func (m *mockChainClient) SignInit(_ context.Context,
	escrow *swapdb.EscrowData, authExpiry time.Time) (
	*swapdb.InitAuthorization, error) {

	return &swapdb.InitAuthorization{
		Prefix:    "test-init",
		Timeout:   authExpiry.Unix(),
		Signature: []byte{0x01, 0x02, 0x03},
	}, nil
}

func (m *mockChainClient) CommitStatus(_ context.Context,
	escrow *swapdb.EscrowData) (*CommitStatus, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.statuses[escrow.ClaimHash]
	if len(queue) == 0 {
		return &CommitStatus{Type: StatusNotCommitted}, nil
	}

	status := queue[0]
	if len(queue) > 1 {
		m.statuses[escrow.ClaimHash] = queue[1:]
	}

	return status, nil
}

func (m *mockChainClient) Refund(_ context.Context,
	escrow *swapdb.EscrowData) (string, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.refunds[escrow.ClaimHash]++

	return "refund-tx", nil
}

func (m *mockChainClient) Balance(_ context.Context, _ common.Address,
	_ bool) (*big.Int, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return new(big.Int).Set(m.balance), nil
}

func (m *mockChainClient) RefundFeeEstimate(_ context.Context) (*big.Int,
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return new(big.Int).Set(m.refundFee), nil
}

func (m *mockChainClient) pushStatus(hash common.Hash,
	statuses ...*CommitStatus) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses[hash] = append(m.statuses[hash], statuses...)
}

func (m *mockChainClient) refundCount(hash common.Hash) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refunds[hash]
}

func (m *mockChainClient) setBalance(balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balance = big.NewInt(balance)
}

type mockChainEvents struct {
	mu       sync.Mutex
	listener func(events []*ChainEvent)

	registered chan struct{}
}

func newMockChainEvents() *mockChainEvents {
	return &mockChainEvents{
		registered: make(chan struct{}),
	}
}

func (m *mockChainEvents) RegisterListener(listener func([]*ChainEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listener = listener
	close(m.registered)
}

func (m *mockChainEvents) deliver(events ...*ChainEvent) {
	m.mu.Lock()
	listener := m.listener
	m.mu.Unlock()

	listener(events)
}

// mockOracle converts at a fixed num/denom token-per-satoshi ratio.
type mockOracle struct {
	num   *big.Int
	denom *big.Int
}

func (o *mockOracle) price(override *swap.Price) *swap.Price {
	if override != nil {
		return override
	}

	return &swap.Price{Num: o.num, Denom: o.denom}
}

func (o *mockOracle) PreFetchPrice(_ context.Context, _ string,
	_ common.Address) (*swap.Price, error) {

	return o.price(nil), nil
}

func (o *mockOracle) ToBtcAmount(_ context.Context, _ string,
	_ common.Address, amount *big.Int, roundUp bool, price *swap.Price) (
	btcutil.Amount, error) {

	p := o.price(price)

	sat := new(big.Int).Mul(amount, p.Denom)
	if roundUp {
		sat.Add(sat, new(big.Int).Sub(p.Num, big.NewInt(1)))
	}
	sat.Div(sat, p.Num)

	return btcutil.Amount(sat.Int64()), nil
}

func (o *mockOracle) FromBtcAmount(_ context.Context, _ string,
	_ common.Address, amount btcutil.Amount, roundUp bool,
	price *swap.Price) (*big.Int, error) {

	p := o.price(price)

	tokens := new(big.Int).Mul(big.NewInt(int64(amount)), p.Num)
	if roundUp {
		tokens.Add(tokens, new(big.Int).Sub(p.Denom, big.NewInt(1)))
	}
	tokens.Div(tokens, p.Denom)

	return tokens, nil
}
