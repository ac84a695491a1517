package swapmm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightswap/swapmm/swap"
	"github.com/lightswap/swapmm/swapdb"
	"golang.org/x/sync/errgroup"
)

// defaultEventQueueSize is the initial capacity of the per chain event
// queues decoupling chain subscriptions from swap processing.
const defaultEventQueueSize = 10

// ReceiveConfig contains the dependencies of the receive swap manager.
type ReceiveConfig struct {
	// Lnd is the hold invoice facade of our Lightning node.
	Lnd LightningNode

	// Chains are the supported settlement chains, keyed by chain id.
	Chains map[string]ChainClient

	// Events are the escrow event sources, keyed by chain id.
	Events map[string]ChainEvents

	// Store persists receive swap contracts.
	Store swapdb.SwapStore[*swapdb.LightningReceiveContract]

	// Oracle converts between satoshis and token units.
	Oracle swap.PriceOracle

	// Quoter prices incoming swap requests.
	Quoter *swap.Quoter

	// ChainParams are the Bitcoin network parameters, used to decode
	// invoices.
	ChainParams *chaincfg.Params

	// Clock is the time source, swappable in tests.
	Clock clock.Clock

	// Ticker drives the watchdog loop. Defaults to
	// DefaultSwapCheckInterval.
	Ticker ticker.Ticker

	// MinCltvDelta is the minimum number of blocks that must remain
	// until the held htlc times out for us to sign an escrow
	// authorization.
	MinCltvDelta int32

	// AuthGraceDelta is the number of blocks subtracted from the
	// remaining htlc margin when computing the authorization expiry.
	AuthGraceDelta int32

	// InvoiceExpiry is the expiry of created hold invoices.
	InvoiceExpiry time.Duration

	// OnStateChange, when set, is invoked after every state transition.
	OnStateChange func(*swapdb.LightningReceiveContract)
}

// ReceiveManager runs the Lightning-to-smart-chain receive flow: it quotes
// incoming requests, issues hold invoices, signs escrow authorizations once
// the htlc is locked in and settles the invoice with the secret revealed by
// the escrow claim.
type ReceiveManager struct {
	cfg *ReceiveConfig

	engine *Engine[*swapdb.LightningReceiveContract]

	// runCtx is the manager's lifetime context, set once Run starts.
	// Invoice watcher goroutines derive from it.
	runCtx context.Context

	// finished retains the final record of every completed swap so that
	// status polls arriving after removal still resolve to the terminal
	// outcome. Entries live for the lifetime of the process.
	finishedMtx sync.Mutex
	finished    map[swapKey]*swapdb.LightningReceiveContract

	wg sync.WaitGroup
}

// NewReceiveManager instantiates the receive manager with the given config,
// filling in defaults for optional fields.
func NewReceiveManager(cfg *ReceiveConfig) *ReceiveManager {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Ticker == nil {
		cfg.Ticker = ticker.New(DefaultSwapCheckInterval)
	}
	if cfg.MinCltvDelta == 0 {
		cfg.MinCltvDelta = DefaultMinCltvDelta
	}
	if cfg.AuthGraceDelta == 0 {
		cfg.AuthGraceDelta = DefaultAuthGraceDelta
	}
	if cfg.InvoiceExpiry == 0 {
		cfg.InvoiceExpiry = DefaultInvoiceExpiry
	}

	m := &ReceiveManager{
		cfg: cfg,
		finished: make(
			map[swapKey]*swapdb.LightningReceiveContract,
		),
	}

	m.engine = NewEngine(&EngineConfig[*swapdb.LightningReceiveContract]{
		Store:         cfg.Store,
		Ticker:        cfg.Ticker,
		Clock:         cfg.Clock,
		OnStateChange: cfg.OnStateChange,
	}, m)

	return m
}

// Run starts the manager: it wires the per chain event pipelines, resumes
// pending swaps and drives the watchdog until the context is canceled.
func (m *ReceiveManager) Run(ctx context.Context) error {
	m.runCtx = ctx

	group, gctx := errgroup.WithContext(ctx)

	for chainID, events := range m.cfg.Events {
		// A buffered queue decouples the subscription callback from
		// swap processing so a slow swap cannot back up the chain
		// subscription.
		eventQueue := queue.NewConcurrentQueue(defaultEventQueueSize)
		eventQueue.Start()

		events.RegisterListener(func(batch []*ChainEvent) {
			eventQueue.ChanIn() <- batch
		})

		chainID := chainID
		group.Go(func() error {
			defer eventQueue.Stop()

			log.Infof("Started event pipeline for chain %v",
				chainID)

			for {
				select {
				case item := <-eventQueue.ChanOut():
					m.engine.DispatchChainEvents(
						gctx, item.([]*ChainEvent),
					)

				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	group.Go(func() error {
		return m.engine.Run(gctx)
	})

	err := group.Wait()
	m.wg.Wait()

	return err
}

// RequestReceiveSwap quotes and admits a new receive swap. On success the
// swap is durably created and the hold invoice is returned; the swap then
// advances through invoice updates, chain events and the watchdog.
func (m *ReceiveManager) RequestReceiveSwap(ctx context.Context,
	req *ReceiveSwapRequest) (*ReceiveSwapResponse, error) {

	chain, ok := m.cfg.Chains[req.ChainID]
	if !ok {
		return nil, ErrUnsupportedChain
	}

	if _, ok := m.engine.GetSwap(req.PaymentHash, req.Sequence); ok {
		return nil, ErrSwapExists
	}

	quoteReq := &swap.QuoteRequest{
		ChainID:       req.ChainID,
		Token:         req.Token,
		DepositToken:  chain.NativeToken(),
		AmountSat:     req.AmountSat,
		AmountToken:   req.AmountToken,
		ExpirySeconds: req.ExpirySeconds,
	}

	schedule, err := m.cfg.Quoter.PreCheck(ctx, quoteReq)
	if err != nil {
		return nil, err
	}

	// Everything the quote and the admission checks need is fetched
	// concurrently up front.
	var (
		price        *swap.Price
		depositPrice *swap.Price
		balance      *big.Int
		baseDeposit  *big.Int
		channels     []Channel
	)
	fetch, fctx := errgroup.WithContext(ctx)
	fetch.Go(func() error {
		var err error
		price, err = m.cfg.Oracle.PreFetchPrice(
			fctx, req.ChainID, req.Token,
		)
		return err
	})
	fetch.Go(func() error {
		// The security deposit is denominated in the chain's native
		// token, which trades at its own price.
		var err error
		depositPrice, err = m.cfg.Oracle.PreFetchPrice(
			fctx, req.ChainID, quoteReq.DepositToken,
		)
		return err
	})
	fetch.Go(func() error {
		var err error
		balance, err = chain.Balance(fctx, req.Token, false)
		return err
	})
	fetch.Go(func() error {
		var err error
		baseDeposit, err = chain.RefundFeeEstimate(fctx)
		return err
	})
	fetch.Go(func() error {
		var err error
		channels, err = m.cfg.Lnd.ListChannels(fctx, true)
		return err
	})
	if err := fetch.Wait(); err != nil {
		return nil, fmt.Errorf("quote pre-fetch: %w", err)
	}

	quote, err := m.cfg.Quoter.Quote(
		ctx, quoteReq, schedule, price, depositPrice, baseDeposit,
	)
	if err != nil {
		return nil, err
	}

	if balance.Cmp(quote.TotalToken) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	var inbound btcutil.Amount
	for _, channel := range channels {
		if channel.Active {
			inbound += channel.RemoteBalance
		}
	}
	if inbound < quote.AmountSat {
		return nil, ErrInsufficientInbound
	}

	payReq, err := m.cfg.Lnd.AddHoldInvoice(
		ctx, req.PaymentHash, quote.AmountSat,
		fmt.Sprintf("swap to %x on %v", req.Token, req.ChainID),
		m.cfg.MinCltvDelta+m.cfg.AuthGraceDelta, m.cfg.InvoiceExpiry,
	)
	if err != nil {
		return nil, fmt.Errorf("add hold invoice: %w", err)
	}

	// Cross-check the node's invoice against our quote before handing it
	// out.
	invoiceAmt, err := swap.GetInvoiceAmt(m.cfg.ChainParams, payReq)
	if err != nil || invoiceAmt != quote.AmountSat {
		if cancelErr := m.cfg.Lnd.CancelInvoice(
			ctx, req.PaymentHash,
		); cancelErr != nil {
			log.Errorf("Canceling mismatched invoice %v: %v",
				req.PaymentHash, cancelErr)
		}
		if err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		return nil, ErrInvoiceAmountMismatch
	}

	now := m.cfg.Clock.Now()
	contract := &swapdb.LightningReceiveContract{
		SwapContract: swapdb.SwapContract{
			ChainID:        req.ChainID,
			Hash:           req.PaymentHash,
			Sequence:       req.Sequence,
			State:          swapdb.StateCreated,
			SwapFee:        quote.SwapFee,
			SwapFeeToken:   quote.SwapFeeToken,
			InitiationTime: now,
			LastUpdateTime: now,
		},
		Invoice:         payReq,
		Claimer:         req.Claimer,
		OutputToken:     req.Token,
		TotalToken:      quote.TotalToken,
		DepositToken:    chain.NativeToken(),
		SecurityDeposit: quote.SecurityDeposit,
		ExpirySeconds:   req.ExpirySeconds,
	}

	if err := m.engine.SaveSwap(ctx, contract); err != nil {
		return nil, fmt.Errorf("persist swap: %w", err)
	}

	m.logger(contract).Infof("Created receive swap: %v sat -> %v token "+
		"units, fee %v sat", quote.AmountSat, quote.TotalToken,
		quote.SwapFee)

	m.wg.Add(1)
	go m.watchInvoice(contract)

	return &ReceiveSwapResponse{
		Invoice:             payReq,
		FeeToken:            quote.SwapFeeToken,
		TotalToken:          quote.TotalToken,
		IntermediaryAddress: chain.Address(),
		SecurityDeposit:     quote.SecurityDeposit,
	}, nil
}

// watchInvoice consumes invoice updates for one swap until the invoice
// reaches a final state. It is the fast path; missed updates are recovered
// by the watchdog.
func (m *ReceiveManager) watchInvoice(s *swapdb.LightningReceiveContract) {
	defer m.wg.Done()

	ctx := m.runCtx
	hash := s.Hash

	updates, errChan, err := m.cfg.Lnd.SubscribeInvoice(ctx, hash)
	if err != nil {
		m.logger(s).Errorf("Subscribing to invoice: %v", err)
		return
	}

	for {
		select {
		case invoice, ok := <-updates:
			if !ok {
				return
			}

			if m.handleInvoiceUpdate(ctx, s, invoice) {
				return
			}

		case err, ok := <-errChan:
			if ok && err != nil {
				m.logger(s).Errorf("Invoice subscription: %v",
					err)
			}
			return

		case <-ctx.Done():
			return
		}
	}
}

// handleInvoiceUpdate applies one invoice update to the swap. It returns
// true once the invoice reached a final state and watching can stop.
func (m *ReceiveManager) handleInvoiceUpdate(ctx context.Context,
	s *swapdb.LightningReceiveContract, invoice *Invoice) bool {

	switch invoice.State {
	case InvoiceAccepted:
		if err := m.onHtlcHeld(ctx, s, invoice); err != nil {
			m.logger(s).Errorf("Handling held htlc: %v", err)
		}
		return false

	case InvoiceCanceled:
		// The invoice expired or was canceled back before any escrow
		// existed. If the lock is held some other pass is mid flight
		// on this swap; the watchdog will observe the canceled
		// invoice instead.
		release, ok := m.engine.LockSwap(s)
		if !ok {
			return true
		}
		err := m.cancelSwap(ctx, s)
		release()

		if err != nil {
			m.logger(s).Errorf("Canceling swap: %v", err)
		}
		return true

	case InvoiceSettled:
		return true
	}

	return false
}

// onHtlcHeld reacts to the hold invoice's htlc locking in: it verifies the
// remaining htlc margin, assembles the escrow and signs the initialization
// authorization the client needs to commit on-chain.
func (m *ReceiveManager) onHtlcHeld(ctx context.Context,
	s *swapdb.LightningReceiveContract, invoice *Invoice) error {

	release, ok := m.engine.LockSwap(s)
	if !ok {
		return nil
	}
	defer release()

	return m.lockedHtlcHeld(ctx, s, invoice)
}

// OnInitialize advances the swap once the client has committed the escrow
// on-chain. The engine holds the swap lock.
func (m *ReceiveManager) OnInitialize(ctx context.Context,
	s *swapdb.LightningReceiveContract, event *ChainEvent) error {

	if s.State != swapdb.StateReceived {
		return nil
	}

	m.logger(s).Infof("Escrow committed in tx %v", event.TxID)

	return m.engine.TransitionState(ctx, s, swapdb.StateCommitted)
}

// OnClaim settles the hold invoice with the secret revealed by the escrow
// claim. The engine holds the swap lock.
func (m *ReceiveManager) OnClaim(ctx context.Context,
	s *swapdb.LightningReceiveContract, event *ChainEvent) error {

	if event.Secret == nil {
		return fmt.Errorf("claim event without secret")
	}

	return m.settleWithSecret(ctx, s, *event.Secret)
}

// OnRefund finalizes a swap whose expired escrow we reclaimed. The engine
// holds the swap lock.
func (m *ReceiveManager) OnRefund(ctx context.Context,
	s *swapdb.LightningReceiveContract, event *ChainEvent) error {

	m.logger(s).Infof("Escrow refunded in tx %v", event.TxID)

	return m.failSwap(ctx, s, swapdb.StateRefunded)
}

// settleWithSecret verifies the revealed secret against the payment hash,
// durably marks the swap claimed and settles the hold invoice. The claimed
// state is persisted before the settle call so a crash in between cannot
// lose the secret.
func (m *ReceiveManager) settleWithSecret(ctx context.Context,
	s *swapdb.LightningReceiveContract, secret lntypes.Preimage) error {

	if s.State.IsFinal() || s.State == swapdb.StateClaimed {
		return nil
	}

	// A secret that does not open our hash would mean the chain contract
	// accepted a bogus claim. Never settle on it.
	if !secret.Matches(s.Hash) {
		m.logger(s).Criticalf("Claim secret %v does not match "+
			"payment hash", secret)

		return fmt.Errorf("claim secret does not match hash %v",
			s.Hash)
	}

	s.Preimage = &secret
	err := m.engine.TransitionState(ctx, s, swapdb.StateClaimed)
	if err != nil {
		return err
	}

	return m.settleInvoice(ctx, s)
}

// settleInvoice settles the hold invoice with the stored preimage and
// finishes the swap. Failures leave the swap claimed; the watchdog retries.
func (m *ReceiveManager) settleInvoice(ctx context.Context,
	s *swapdb.LightningReceiveContract) error {

	if err := m.cfg.Lnd.SettleInvoice(ctx, *s.Preimage); err != nil {
		return fmt.Errorf("settle invoice: %w", err)
	}

	m.logger(s).Infof("Swap settled, received %v sat", s.SwapFee)

	return m.finishSwap(ctx, s, swapdb.StateSettled)
}

// cancelSwap cancels the hold invoice back and finishes the swap as
// canceled. No funds moved on either side.
func (m *ReceiveManager) cancelSwap(ctx context.Context,
	s *swapdb.LightningReceiveContract) error {

	return m.failSwap(ctx, s, swapdb.StateCanceled)
}

// failSwap cancels the hold invoice if it is still open and removes the
// swap with the given terminal failure state.
func (m *ReceiveManager) failSwap(ctx context.Context,
	s *swapdb.LightningReceiveContract,
	terminal swapdb.SwapState) error {

	err := m.cfg.Lnd.CancelInvoice(ctx, s.Hash)
	if err != nil {
		// The invoice may already be canceled or unknown; removal
		// must still go ahead.
		m.logger(s).Warnf("Canceling invoice: %v", err)
	}

	return m.finishSwap(ctx, s, terminal)
}

// finishSwap removes the swap under the given terminal state and retains the
// final record for late status polls. The record is published before the
// removal so there is no window in which a poll finds neither; while the
// swap is still tracked the live record shadows the finished entry.
func (m *ReceiveManager) finishSwap(ctx context.Context,
	s *swapdb.LightningReceiveContract,
	terminal swapdb.SwapState) error {

	m.finishedMtx.Lock()
	m.finished[swapKey{hash: s.Hash, sequence: s.Sequence}] = s
	m.finishedMtx.Unlock()

	return m.engine.RemoveSwap(ctx, s, &terminal)
}

// ReconcilePastSwaps is the watchdog pass: every open swap's effective state
// is re-derived from the Lightning node and the chain, so transitions missed
// by the event paths are applied and stuck swaps are unstuck. Swaps whose
// lock is held are skipped until the next tick.
func (m *ReceiveManager) ReconcilePastSwaps(ctx context.Context) error {
	var swaps []*swapdb.LightningReceiveContract
	m.engine.ForEachSwap(func(s *swapdb.LightningReceiveContract) {
		swaps = append(swaps, s)
	})

	for _, s := range swaps {
		if err := ctx.Err(); err != nil {
			return err
		}

		release, ok := m.engine.LockSwap(s)
		if !ok {
			continue
		}

		err := m.reconcileSwap(ctx, s)
		release()

		if err != nil {
			m.logger(s).Errorf("Reconcile: %v", err)
		}
	}

	return nil
}

// reconcileSwap re-derives one swap's state. Caller holds the swap lock.
func (m *ReceiveManager) reconcileSwap(ctx context.Context,
	s *swapdb.LightningReceiveContract) error {

	switch s.State {
	// Quote issued, waiting for the payment. If the invoice is gone or
	// canceled the quote is dead.
	case swapdb.StateCreated:
		invoice, err := m.cfg.Lnd.LookupInvoice(ctx, s.Hash)
		if err != nil {
			return fmt.Errorf("lookup invoice: %w", err)
		}

		switch {
		case invoice == nil:
			m.logger(s).Infof("Invoice gone, canceling swap")
			return m.finishSwap(ctx, s, swapdb.StateCanceled)

		case invoice.State == InvoiceCanceled:
			return m.finishSwap(ctx, s, swapdb.StateCanceled)

		case invoice.State == InvoiceAccepted:
			// The subscription missed the lock-in.
			return m.lockedHtlcHeld(ctx, s, invoice)
		}

		return nil

	// Authorization signed, waiting for the client to commit the escrow.
	case swapdb.StateReceived:
		status, err := m.commitStatus(ctx, s)
		if err != nil {
			return err
		}

		switch status.Type {
		case StatusNotCommitted:
			// The client never committed and can no longer do so
			// once the authorization expired.
			if m.cfg.Clock.Now().After(s.AuthExpiry) {
				m.logger(s).Infof("Authorization expired " +
					"without commit, canceling")
				return m.cancelSwap(ctx, s)
			}
			return nil

		case StatusExpired:
			return m.cancelSwap(ctx, s)

		case StatusCommitted:
			return m.engine.TransitionState(
				ctx, s, swapdb.StateCommitted,
			)

		case StatusPaid:
			return m.applyPaidStatus(ctx, s, status)

		// The commit was missed entirely and the escrow has already
		// expired unclaimed. Reclaim it right away.
		case StatusRefundable:
			return m.refundSwap(ctx, s)
		}

		return nil

	// Escrow committed, waiting for the client's claim.
	case swapdb.StateCommitted:
		status, err := m.commitStatus(ctx, s)
		if err != nil {
			return err
		}

		switch status.Type {
		case StatusPaid:
			return m.applyPaidStatus(ctx, s, status)

		case StatusRefundable:
			return m.refundSwap(ctx, s)
		}

		return nil

	// Claim observed and recorded, invoice settle still outstanding.
	case swapdb.StateClaimed:
		return m.settleInvoice(ctx, s)
	}

	return nil
}

// lockedHtlcHeld handles a held htlc. Caller holds the swap lock.
func (m *ReceiveManager) lockedHtlcHeld(ctx context.Context,
	s *swapdb.LightningReceiveContract, invoice *Invoice) error {

	// The watchdog or the subscription may have gotten here first.
	if s.State != swapdb.StateCreated {
		return nil
	}

	chain, ok := m.cfg.Chains[s.ChainID]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnsupportedChain, s.ChainID)
	}

	height, err := m.cfg.Lnd.GetBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("block height: %w", err)
	}

	// If too few blocks remain until the htlc times out, settling would
	// risk losing the payment to an on-chain timeout. Cancel back.
	blockDelta := invoice.HtlcExpiryHeight - height
	if blockDelta < m.cfg.MinCltvDelta {
		m.logger(s).Warnf("Htlc margin %d blocks below minimum %d, "+
			"canceling", blockDelta, m.cfg.MinCltvDelta)

		return m.cancelSwap(ctx, s)
	}

	now := m.cfg.Clock.Now()

	escrow, err := chain.NewEscrow(
		s.Claimer, s.OutputToken, s.TotalToken,
		common.Hash(s.Hash), s.Sequence,
		now.Unix()+s.ExpirySeconds,
	)
	if err != nil {
		return fmt.Errorf("new escrow: %w", err)
	}

	// The authorization must die before the htlc does, with enough grace
	// to refund an unclaimed escrow.
	authExpiry := now.Add(
		time.Duration(blockDelta-m.cfg.AuthGraceDelta) *
			bitcoinBlockDuration,
	)

	auth, err := chain.SignInit(ctx, escrow, authExpiry)
	if err != nil {
		return fmt.Errorf("sign init: %w", err)
	}

	s.Escrow = escrow
	s.InitAuth = auth
	s.AuthExpiry = authExpiry
	s.HtlcExpiryHeight = invoice.HtlcExpiryHeight

	m.logger(s).Infof("Htlc locked in, authorization valid until %v",
		authExpiry)

	return m.engine.TransitionState(ctx, s, swapdb.StateReceived)
}

// applyPaidStatus folds a live paid status into the swap: record the claim
// transaction if the event path missed it, then settle on the revealed
// secret.
func (m *ReceiveManager) applyPaidStatus(ctx context.Context,
	s *swapdb.LightningReceiveContract, status *CommitStatus) error {

	if status.ClaimSecret == nil {
		return fmt.Errorf("paid status without claim secret")
	}

	if status.ClaimTxID != "" {
		if _, ok := s.TxIDs[swapdb.TxClaim]; !ok {
			s.SetTxID(
				swapdb.TxClaim, status.ClaimTxID,
				m.cfg.Clock.Now(),
			)
		}
	}

	return m.settleWithSecret(ctx, s, *status.ClaimSecret)
}

// refundSwap reclaims an expired committed escrow and finishes the swap.
func (m *ReceiveManager) refundSwap(ctx context.Context,
	s *swapdb.LightningReceiveContract) error {

	chain, ok := m.cfg.Chains[s.ChainID]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnsupportedChain, s.ChainID)
	}

	m.logger(s).Infof("Escrow expired unclaimed, refunding")

	txid, err := chain.Refund(ctx, s.Escrow)
	if err != nil {
		return fmt.Errorf("refund escrow: %w", err)
	}

	s.SetTxID(swapdb.TxRefund, txid, m.cfg.Clock.Now())

	return m.failSwap(ctx, s, swapdb.StateRefunded)
}

// commitStatus queries the live escrow status of the swap's chain.
func (m *ReceiveManager) commitStatus(ctx context.Context,
	s *swapdb.LightningReceiveContract) (*CommitStatus, error) {

	chain, ok := m.cfg.Chains[s.ChainID]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedChain,
			s.ChainID)
	}

	return chain.CommitStatus(ctx, s.Escrow)
}

// SwapStatus reports the coded status of a swap for the client's status
// poll. The authorization is included from lock-in onward so the client can
// (re)submit the escrow initialization. Terminal outcomes remain pollable
// after the swap itself is removed.
func (m *ReceiveManager) SwapStatus(ctx context.Context, hash lntypes.Hash,
	sequence uint64) (*ReceiveSwapStatus, error) {

	// Open swaps are read under their lock so a concurrent transition is
	// never observed half applied.
	var status *ReceiveSwapStatus
	ok := m.engine.WithSwap(hash, sequence,
		func(s *swapdb.LightningReceiveContract) {
			status = m.swapStatus(s)
		},
	)
	if ok {
		return status, nil
	}

	m.finishedMtx.Lock()
	s, done := m.finished[swapKey{hash: hash, sequence: sequence}]
	m.finishedMtx.Unlock()
	if !done {
		return nil, swapdb.ErrSwapNotFound
	}

	return m.swapStatus(s), nil
}

// swapStatus maps the record onto the shared status vocabulary.
func (m *ReceiveManager) swapStatus(
	s *swapdb.LightningReceiveContract) *ReceiveSwapStatus {

	status := &ReceiveSwapStatus{
		InitAuth: s.InitAuth,
	}
	if txid, ok := s.TxIDs[swapdb.TxClaim]; ok {
		status.TxID = txid
	} else if txid, ok := s.TxIDs[swapdb.TxRefund]; ok {
		status.TxID = txid
	} else if txid, ok := s.TxIDs[swapdb.TxInit]; ok {
		status.TxID = txid
	}

	switch s.State {
	case swapdb.StateCreated:
		status.Status = StatusUnpaid

	case swapdb.StateReceived:
		status.Status = StatusProcessing

	case swapdb.StateCommitted:
		status.Status = StatusProcessing
		if s.Escrow != nil &&
			m.cfg.Clock.Now().Unix() >= s.Escrow.Expiry {

			status.Status = StatusRefundableSwap
		}

	case swapdb.StateClaimed:
		status.Status = StatusSent

	case swapdb.StateSettled:
		status.Status = StatusConfirmed

	case swapdb.StateCanceled:
		status.Status = StatusExpiredSwap

	case swapdb.StateRefunded:
		status.Status = StatusRefundableSwap
	}

	return status
}

// NumActiveSwaps returns the number of swaps currently in flight.
func (m *ReceiveManager) NumActiveSwaps() int {
	return m.engine.NumActiveSwaps()
}

// logger returns a hash prefixed logger for the swap.
func (m *ReceiveManager) logger(
	s *swapdb.LightningReceiveContract) *swap.PrefixLog {

	return &swap.PrefixLog{
		Logger: log,
		Hash:   s.Hash,
	}
}
