// Package purchase drives a single buy attempt through currency approval,
// order validation and settlement.
//
// A Controller reacts to two kinds of input: results of the calls it makes
// itself (Click) and facts observed from outside (allowance updates and
// transaction statuses). External facts are stored as they arrive and applied
// only when no direct call is in flight, so a direct result is always applied
// before any signal that raced with it.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/swapmarket/internal/domain"
)

// OrderChecker asks the swap contract whether an order is fillable.
type OrderChecker interface {
	CheckOrder(ctx context.Context, order domain.Order, senderWallet string) ([]string, error)
}

// ApprovalSubmitter grants the swap contract a currency allowance. A declined
// wallet prompt must match domain.ErrUserRejected.
type ApprovalSubmitter interface {
	SubmitApproval(ctx context.Context, token string) (domain.Transaction, error)
}

// SettlementSubmitter submits the swap transaction for an order.
type SettlementSubmitter interface {
	SubmitSettlement(ctx context.Context, order domain.Order, senderWallet string) (domain.Transaction, error)
}

// Gateway bundles the collaborators a Controller sequences.
type Gateway interface {
	OrderChecker
	ApprovalSubmitter
	SettlementSubmitter
}

// Config describes one purchase attempt.
type Config struct {
	Order   domain.Order
	Account string
	// Required is the currency amount the buyer pays, fees included.
	Required *big.Int
	// Allowance is the allowance known when the attempt starts.
	Allowance *big.Int
	Clock     func() time.Time
}

// Outcome is the result of a Click.
type Outcome struct {
	State            domain.PurchaseState
	ValidationErrors []string
	Transaction      *domain.Transaction
}

// Status is a point-in-time snapshot of a controller.
type Status struct {
	State        domain.PurchaseState `json:"state"`
	OrderKey     string               `json:"order_key"`
	Account      string               `json:"account"`
	Required     string               `json:"required"`
	Allowance    string               `json:"allowance"`
	ApprovalTx   string               `json:"approval_tx,omitempty"`
	SettlementTx string               `json:"settlement_tx,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Controller is the state machine for one purchase attempt. It is safe for
// concurrent use; only one Click may run at a time.
type Controller struct {
	order    domain.Order
	key      string
	account  string
	currency string
	required *big.Int
	gw       Gateway
	logger   *slog.Logger
	now      func() time.Time

	mu             sync.Mutex
	state          domain.PurchaseState
	allowance      *big.Int
	approvalTx     string
	approvalFailed bool
	settleTx       string
	// early holds settlement updates that arrive while the submit call is
	// in flight, keyed by hash, until settleTx is known.
	early          map[string]domain.Transaction
	settle         domain.TxStatus
	settleReason   string
	inFlight       bool
	disposed       bool
	err            error
	listeners      []func(Transition)
	releases       []func()
	queue          []Transition
	emitting       bool
}

// New creates a Controller in the details state.
func New(cfg Config, gw Gateway, logger *slog.Logger) (*Controller, error) {
	if gw == nil {
		return nil, errors.New("purchase: gateway is required")
	}
	if cfg.Account == "" {
		return nil, errors.New("purchase: account is required")
	}
	if cfg.Required == nil || cfg.Required.Sign() < 0 {
		return nil, errors.New("purchase: required amount must be non-negative")
	}
	if cfg.Order.Sender.Token == "" {
		return nil, fmt.Errorf("%w: sender token is required", domain.ErrInvalidOrder)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	allowance := new(big.Int)
	if cfg.Allowance != nil {
		allowance.Set(cfg.Allowance)
	}
	key := cfg.Order.Key()
	return &Controller{
		order:     cfg.Order,
		key:       key,
		account:   cfg.Account,
		currency:  cfg.Order.Sender.Token,
		required:  new(big.Int).Set(cfg.Required),
		gw:        gw,
		logger:    logger.With(slog.String("component", "purchase"), slog.String("order_key", key)),
		now:       clock,
		state:     domain.PurchaseDetails,
		allowance: allowance,
	}, nil
}

// OnTransition registers fn to be called, in order, for every applied
// transition. Callbacks run outside the controller lock.
func (c *Controller) OnTransition(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current state.
func (c *Controller) State() domain.PurchaseState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the attempt to failed, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Status returns a snapshot of the attempt.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:        c.state,
		OrderKey:     c.key,
		Account:      c.account,
		Required:     c.required.String(),
		Allowance:    c.allowance.String(),
		ApprovalTx:   c.approvalTx,
		SettlementTx: c.settleTx,
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

// Click performs the user action from the details state: request an approval
// when the allowance is short, otherwise validate the order and submit the
// settlement. Recoverable conditions (user rejection, validation errors)
// return a nil error and leave the attempt in details. Anything else moves
// it to failed and is returned.
func (c *Controller) Click(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	switch {
	case c.disposed || c.state.Terminal():
		st := c.state
		c.mu.Unlock()
		return Outcome{State: st}, domain.ErrPurchaseClosed
	case c.inFlight || c.state != domain.PurchaseDetails:
		st := c.state
		c.mu.Unlock()
		return Outcome{State: st}, fmt.Errorf("%w: state %s", domain.ErrActionInFlight, st)
	}

	c.inFlight = true
	if c.allowance.Cmp(c.required) < 0 {
		c.transitionLocked(domain.PurchaseApprove, TriggerClick, "allowance insufficient")
		c.release()
		return c.approve(ctx)
	}
	c.transitionLocked(domain.PurchaseSign, TriggerClick, "allowance sufficient")
	c.release()
	return c.sign(ctx)
}

func (c *Controller) approve(ctx context.Context) (Outcome, error) {
	tx, err := c.gw.SubmitApproval(ctx, c.currency)

	c.mu.Lock()
	c.inFlight = false
	if c.disposed {
		st := c.state
		c.release()
		return Outcome{State: st}, domain.ErrPurchaseClosed
	}

	var out Outcome
	var retErr error
	switch {
	case err == nil:
		c.approvalTx = tx.Hash
		c.transitionLocked(domain.PurchaseApproving, TriggerApprovalSent, tx.Hash)
		out.Transaction = &tx
	case errors.Is(err, domain.ErrUserRejected):
		c.transitionLocked(domain.PurchaseDetails, TriggerApprovalReject, "")
	default:
		retErr = fmt.Errorf("purchase: approval: %w", asTxFailure(err))
		c.failLocked(TriggerApprovalFailed, retErr)
	}

	c.evaluateLocked()
	out.State = c.state
	c.release()
	return out, retErr
}

func (c *Controller) sign(ctx context.Context) (Outcome, error) {
	problems, err := c.gw.CheckOrder(ctx, c.order, c.account)

	c.mu.Lock()
	if c.disposed {
		c.inFlight = false
		st := c.state
		c.release()
		return Outcome{State: st}, domain.ErrPurchaseClosed
	}
	if err != nil {
		c.inFlight = false
		retErr := fmt.Errorf("purchase: check order: %w", err)
		c.failLocked(TriggerUnexpected, retErr)
		c.evaluateLocked()
		out := Outcome{State: c.state}
		c.release()
		return out, retErr
	}
	if len(problems) > 0 {
		c.inFlight = false
		c.logger.Warn("order failed validation",
			slog.Any("errors", problems),
		)
		c.transitionLocked(domain.PurchaseDetails, TriggerCheckFailed, strings.Join(problems, ","))
		c.evaluateLocked()
		out := Outcome{State: c.state, ValidationErrors: problems}
		c.release()
		return out, nil
	}
	c.mu.Unlock()

	tx, err := c.gw.SubmitSettlement(ctx, c.order, c.account)

	c.mu.Lock()
	c.inFlight = false
	if c.disposed {
		st := c.state
		c.release()
		return Outcome{State: st}, domain.ErrPurchaseClosed
	}

	var out Outcome
	var retErr error
	switch {
	case err == nil:
		c.settleTx = tx.Hash
		c.noteSettlementLocked(tx.Status, tx.Reason)
		if early, ok := c.early[tx.Hash]; ok {
			c.noteSettlementLocked(early.Status, early.Reason)
		}
		c.early = nil
		out.Transaction = &tx
	case errors.Is(err, domain.ErrUserRejected):
		c.transitionLocked(domain.PurchaseDetails, TriggerSettleReject, "")
	default:
		retErr = fmt.Errorf("purchase: settlement: %w", asTxFailure(err))
		c.failLocked(TriggerSettleFailed, retErr)
	}

	c.evaluateLocked()
	out.State = c.state
	c.release()
	return out, retErr
}

// ObserveAllowance records the latest currency allowance of the account.
func (c *Controller) ObserveAllowance(v *big.Int) {
	if v == nil {
		return
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.allowance = new(big.Int).Set(v)
	if !c.inFlight {
		c.evaluateLocked()
	}
	c.release()
}

// ObserveTransaction records a transaction status update. Updates for other
// orders or other tokens are ignored.
func (c *Controller) ObserveTransaction(tx domain.Transaction) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	switch tx.Type {
	case domain.TxOrder:
		if tx.OrderKey != c.key {
			c.mu.Unlock()
			return
		}
		// Until this attempt has its own settlement hash, updates for the
		// same order belong to someone else unless our submit is in flight.
		if c.settleTx == "" {
			if c.inFlight && tx.Hash != "" {
				if c.early == nil {
					c.early = make(map[string]domain.Transaction)
				}
				if prev, ok := c.early[tx.Hash]; !ok || txRank(tx.Status) > txRank(prev.Status) {
					c.early[tx.Hash] = tx
				}
			}
			c.mu.Unlock()
			return
		}
		if tx.Hash != "" && tx.Hash != c.settleTx {
			c.mu.Unlock()
			return
		}
		c.noteSettlementLocked(tx.Status, tx.Reason)
	case domain.TxApproval:
		if !domain.SameAddress(tx.Token, c.currency) || (c.approvalTx != "" && tx.Hash != c.approvalTx) {
			c.mu.Unlock()
			return
		}
		if tx.Status == domain.TxFailed {
			c.approvalFailed = true
		}
	default:
		c.mu.Unlock()
		return
	}
	if !c.inFlight {
		c.evaluateLocked()
	}
	c.release()
}

// Watch consumes allowance and transaction feeds until ctx is done or the
// controller is disposed. release functions are called on Dispose to tear
// down the underlying subscriptions. Either channel may be nil.
func (c *Controller) Watch(ctx context.Context, allowances <-chan *big.Int, txs <-chan domain.Transaction, release ...func()) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		cancel()
		for _, r := range release {
			r()
		}
		return
	}
	c.releases = append(c.releases, cancel)
	c.releases = append(c.releases, release...)
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-allowances:
				if !ok {
					allowances = nil
					continue
				}
				c.ObserveAllowance(v)
			case tx, ok := <-txs:
				if !ok {
					txs = nil
					continue
				}
				c.ObserveTransaction(tx)
			}
		}
	}()
}

// Dispose releases every subscription. Results of calls still in flight are
// discarded when they return. Dispose is idempotent.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	releases := c.releases
	c.releases = nil
	c.mu.Unlock()

	for _, r := range releases {
		r()
	}
	c.logger.Debug("purchase disposed")
}

// noteSettlementLocked keeps the most advanced settlement status seen.
func (c *Controller) noteSettlementLocked(status domain.TxStatus, reason string) {
	if txRank(status) <= txRank(c.settle) {
		return
	}
	c.settle = status
	c.settleReason = reason
}

func txRank(s domain.TxStatus) int {
	switch s {
	case domain.TxProcessing:
		return 1
	case domain.TxSucceeded, domain.TxFailed:
		return 2
	default:
		return 0
	}
}

// evaluateLocked applies stored external facts to the current state.
func (c *Controller) evaluateLocked() {
	if c.state.Terminal() {
		return
	}

	switch c.settle {
	case domain.TxSucceeded:
		c.transitionLocked(domain.PurchaseSuccess, TriggerTxSucceeded, c.settleTx)
		return
	case domain.TxFailed:
		err := fmt.Errorf("purchase: settlement %s: %w", c.settleTx, domain.ErrTransactionFailed)
		if c.settleReason != "" {
			err = fmt.Errorf("purchase: settlement %s: %w: %s", c.settleTx, domain.ErrTransactionFailed, c.settleReason)
		}
		c.failLocked(TriggerTxFailed, err)
		return
	case domain.TxProcessing:
		if c.state != domain.PurchaseBuying {
			c.transitionLocked(domain.PurchaseBuying, TriggerTxProcessing, c.settleTx)
		}
		return
	}

	if c.state != domain.PurchaseApproving {
		return
	}
	if c.approvalFailed {
		c.failLocked(TriggerApprovalFailed,
			fmt.Errorf("purchase: approval %s: %w", c.approvalTx, domain.ErrTransactionFailed))
		return
	}
	if c.allowance.Cmp(c.required) >= 0 {
		c.transitionLocked(domain.PurchaseDetails, TriggerAllowance, c.allowance.String())
	}
}

func (c *Controller) failLocked(trigger string, err error) {
	c.err = err
	c.transitionLocked(domain.PurchaseFailed, trigger, err.Error())
}

func (c *Controller) transitionLocked(to domain.PurchaseState, trigger, detail string) {
	from := c.state
	if from == to {
		return
	}
	if err := validateTransition(from, to); err != nil {
		c.logger.Error("transition rejected",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		return
	}
	c.state = to
	tr := Transition{From: from, To: to, Trigger: trigger, Detail: detail, At: c.now().UTC()}
	c.queue = append(c.queue, tr)
	c.logger.Info("purchase transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("trigger", trigger),
	)
}

// release unlocks c.mu and delivers queued transitions to listeners in the
// order they were applied. Only one goroutine delivers at a time.
func (c *Controller) release() {
	if c.emitting {
		c.mu.Unlock()
		return
	}
	c.emitting = true
	for len(c.queue) > 0 {
		batch := c.queue
		c.queue = nil
		listeners := slices.Clone(c.listeners)
		c.mu.Unlock()
		for _, tr := range batch {
			for _, fn := range listeners {
				fn(tr)
			}
		}
		c.mu.Lock()
	}
	c.emitting = false
	c.mu.Unlock()
}

// asTxFailure tags err as a transaction failure unless it already is one.
func asTxFailure(err error) error {
	if errors.Is(err, domain.ErrTransactionFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransactionFailed, err)
}
