// Package payment drives a single payment attempt from the first gateway
// call to a terminal outcome.
//
// A Machine owns one actor goroutine. Every public operation is queued to it
// and returns once the resulting transition has committed, so transitions are
// serialized without callers holding locks. Gateway calls run on their own
// goroutines and post their results back to the actor tagged with an operation
// sequence number; results of superseded operations are dropped.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"

	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/metrics"
	"github.com/vitwit/apmkit/types"
	"github.com/vitwit/apmkit/utils"
)

const (
	DefaultConfirmationTimeout = 3 * time.Minute
	MaxConfirmationTimeout     = 15 * time.Minute
	DefaultPollInterval        = 3 * time.Second
)

// Service advances a flow on the gateway. *adapter.Adapter implements it.
type Service interface {
	ContinuePayment(ctx context.Context, req types.ContinueRequest) (*types.AuthorizationResult, error)
}

// Config tunes a single machine.
type Config struct {
	// ReturnURL is matched against redirect callbacks by scheme and host.
	ReturnURL           string
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	Locale              string
}

func (c Config) withDefaults() Config {
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if c.ConfirmationTimeout > MaxConfirmationTimeout {
		c.ConfirmationTimeout = MaxConfirmationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(l logger.Logger) Option {
	return func(m *Machine) {
		m.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Machine) {
		m.metrics = metrics.OrNoop(r)
	}
}

// WithClock replaces the clock used for the confirmation timeout and polling.
func WithClock(clk clock.Clock) Option {
	return func(m *Machine) {
		if clk != nil {
			m.clock = clk
		}
	}
}

type command struct {
	apply func()
	reply chan struct{}
}

type resultHandler func(*types.AuthorizationResult, error)

// Machine is the payment state machine for one flow.
type Machine struct {
	flow      types.PaymentFlow
	service   Service
	cfg       Config
	returnURL *url.URL
	logger    logger.Logger
	metrics   metrics.Recorder
	clock     clock.Clock

	state    atomic.Pointer[State]
	notifier *notifier
	commands chan command
	loopDone chan struct{}
	done     chan struct{}

	// Owned by the actor goroutine.
	ctx      context.Context
	cancel   context.CancelFunc
	opSeq    uint64
	opCancel context.CancelFunc
	confirm  *confirmation
}

// New creates a new machine in StatusIdle. Nothing is sent until Start.
func New(flow types.PaymentFlow, service Service, cfg Config, opts ...Option) (*Machine, error) {
	if err := flow.Validate(); err != nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidFlow,
			Message: err.Error(),
		}
	}
	if service == nil {
		return nil, &types.APMError{
			Code:    types.ErrInvalidConfig,
			Message: "payment service is required",
		}
	}

	cfg = cfg.withDefaults()
	var returnURL *url.URL
	if cfg.ReturnURL != "" {
		u, err := url.Parse(cfg.ReturnURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, &types.APMError{
				Code:    types.ErrInvalidConfig,
				Message: fmt.Sprintf("invalid return url %q", cfg.ReturnURL),
			}
		}
		returnURL = u
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		flow:      flow,
		service:   service,
		cfg:       cfg,
		returnURL: returnURL,
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		clock:     clock.New(),
		notifier:  newNotifier(),
		commands:  make(chan command),
		loopDone:  make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.With(m.logger, map[string]any{"flow": flow.String()})
	m.state.Store(&State{Status: StatusIdle, Flow: flow})

	go m.run()
	return m, nil
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	return m.state.Load().clone()
}

// Subscribe registers fn for every state published after this call.
// Callbacks run on a dedicated goroutine in transition order.
func (m *Machine) Subscribe(fn func(State)) *Subscription {
	return m.notifier.subscribe(fn)
}

// Done is closed once the machine reaches StatusCaptured or StatusFailed.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Start sends the initial request. It only acts in StatusIdle.
func (m *Machine) Start() {
	m.exec(func() {
		if m.current().Status != StatusIdle {
			return
		}
		m.setState(State{Status: StatusStarting})
		m.launch(types.ContinueRequest{}, m.handleStartResult)
	})
}

// UpdateParameter stores a new raw value for key and clears its error.
// Unknown keys and unchanged values are ignored.
func (m *Machine) UpdateParameter(key, value string) {
	m.exec(func() {
		cur := m.current()
		if cur.Status != StatusStarted {
			return
		}
		idx := -1
		for i, p := range cur.Parameters {
			if p.Definition.Key == key {
				idx = i
				break
			}
		}
		if idx < 0 || cur.Parameters[idx].Value == value {
			return
		}

		next := cur.clone()
		next.Parameters[idx].Value = value
		next.Parameters[idx].ValidationError = ""
		m.setState(next)
	})
}

// Submit validates every parameter and, when all are valid, sends them.
func (m *Machine) Submit() {
	m.exec(func() {
		cur := m.current()
		if cur.Status != StatusStarted {
			return
		}

		next := cur.clone()
		values := make(map[string]any, len(next.Parameters))
		valid := true
		for i := range next.Parameters {
			p := &next.Parameters[i]
			p.ValidationError = ""
			if err := utils.ValidateParameter(p.Definition, p.Value); err != nil {
				p.ValidationError = err.Error()
				valid = false
				continue
			}
			if strings.TrimSpace(p.Value) != "" {
				values[p.Definition.Key] = utils.SubmitValue(p.Definition, p.Value)
			}
		}
		if !valid {
			m.logger.Debug("parameters rejected", map[string]any{"status": string(next.Status)})
			m.setState(next)
			return
		}

		next.Status = StatusSubmitting
		m.setState(next)
		m.launch(types.ContinueRequest{
			SubmitData: &types.SubmitData{Parameters: values},
		}, m.handleSubmitResult)
	})
}

// Cancel moves any non-terminal machine to StatusFailed with a cancelled
// failure. Results of in-flight requests are ignored afterwards.
func (m *Machine) Cancel() {
	m.exec(func() {
		if m.current().Status.IsTerminal() {
			return
		}
		m.fail(types.CancelledFailure(context.Canceled))
	})
}

// Close cancels the machine if needed and waits for its goroutine to exit.
func (m *Machine) Close() error {
	m.Cancel()
	<-m.loopDone
	return nil
}

func (m *Machine) run() {
	defer func() {
		close(m.loopDone)
		m.notifier.close()
	}()
	for cmd := range m.commands {
		cmd.apply()
		if cmd.reply != nil {
			close(cmd.reply)
		}
		if m.current().Status.IsTerminal() {
			return
		}
	}
}

// exec runs fn on the actor and waits for it. It reports false when the
// machine has already stopped.
func (m *Machine) exec(fn func()) bool {
	reply := make(chan struct{})
	select {
	case m.commands <- command{apply: fn, reply: reply}:
	case <-m.loopDone:
		return false
	}
	<-reply
	return true
}

// post queues fn on the actor without waiting for it to run.
func (m *Machine) post(fn func()) {
	select {
	case m.commands <- command{apply: fn}:
	case <-m.loopDone:
	}
}

func (m *Machine) current() *State {
	return m.state.Load()
}

// launch calls the service on a new goroutine. Starting a new operation
// supersedes the previous one.
func (m *Machine) launch(req types.ContinueRequest, handle resultHandler) {
	if m.opCancel != nil {
		m.opCancel()
	}
	m.opSeq++
	seq := m.opSeq
	ctx, cancel := context.WithCancel(m.ctx)
	m.opCancel = cancel

	req.Flow = m.flow
	req.Locale = m.cfg.Locale

	go func() {
		defer cancel()
		result, err := m.service.ContinuePayment(ctx, req)
		m.post(func() {
			if seq != m.opSeq {
				m.logger.Debug("dropping stale result", map[string]any{"operation": seq})
				return
			}
			m.opCancel = nil
			handle(result, err)
		})
	}()
}

// setState commits next unless the machine is already terminal.
func (m *Machine) setState(next State) {
	prev := m.current()
	if prev.Status.IsTerminal() {
		return
	}

	next.Flow = m.flow
	snapshot := next.clone()
	m.state.Store(&snapshot)

	m.metrics.IncCounter("payment_transition", map[string]string{"kind": string(next.Status)})
	m.logger.Debug("payment transition", map[string]any{
		"from": string(prev.Status),
		"to":   string(next.Status),
	})
	m.notifier.publish(snapshot)

	if next.Status.IsTerminal() {
		if m.confirm != nil {
			m.metrics.ObserveLatency("payment_confirmation", m.clock.Now().Sub(m.confirm.started),
				map[string]string{"method": string(next.Status)})
		}
		m.stopActivity()
		close(m.done)
	}
}

func (m *Machine) stopActivity() {
	m.opSeq++
	if m.opCancel != nil {
		m.opCancel()
		m.opCancel = nil
	}
	if m.confirm != nil {
		m.confirm.stop()
	}
	m.cancel()
}

func (m *Machine) fail(err error) {
	f, ok := types.AsFailure(err)
	if !ok {
		f = types.InternalFailure(err)
	}

	next := m.current().clone()
	next.Status = StatusFailed
	next.Redirect = nil
	next.Failure = f

	fields := map[string]any{"kind": string(f.Kind), "error": err}
	if next.GatewayConfigurationID != "" {
		fields["gateway_configuration_id"] = next.GatewayConfigurationID
	}
	if m.flow.Authorization != nil {
		fields["invoice_id"] = m.flow.Authorization.InvoiceID
	}
	if f.Kind == types.KindCancelled {
		m.logger.Info("payment cancelled", fields)
	} else {
		m.logger.Error("payment failed", fields)
	}
	m.setState(next)
}

func (m *Machine) captured() {
	next := m.current().clone()
	next.Status = StatusCaptured
	next.Redirect = nil
	m.logger.Info("payment captured", nil)
	m.setState(next)
}

func (m *Machine) handleStartResult(res *types.AuthorizationResult, err error) {
	if err != nil {
		m.fail(err)
		return
	}
	m.advance(res)
}

func (m *Machine) handleSubmitResult(res *types.AuthorizationResult, err error) {
	if err != nil {
		if m.recoverInvalidFields(err) {
			return
		}
		m.fail(err)
		return
	}
	m.advance(res)
}

// advance applies a successful start or submit response.
func (m *Machine) advance(res *types.AuthorizationResult) {
	switch {
	case res.State == types.StateCaptured:
		m.captured()
	case res.State == types.StatePendingCapture || res.Redirect != nil:
		m.awaitConfirmation(res)
	case len(res.Parameters) > 0:
		m.setState(State{
			Status:                 StatusStarted,
			GatewayConfigurationID: res.GatewayConfigurationID,
			Parameters:             newParameters(res.Parameters),
			Elements:               res.Elements,
		})
	default:
		m.fail(types.InternalFailure(fmt.Errorf("gateway returned %s without a next step", res.State)))
	}
}

// recoverInvalidFields returns to StatusStarted when a server failure names
// at least one of the submitted parameters. Entered values are kept.
func (m *Machine) recoverInvalidFields(err error) bool {
	f, ok := types.AsFailure(err)
	if !ok || f.Kind != types.KindServer {
		return false
	}
	fields := f.InvalidFields()
	if len(fields) == 0 {
		return false
	}

	next := m.current().clone()
	matched := false
	for i := range next.Parameters {
		for _, field := range fields {
			if field.Name != next.Parameters[i].Definition.Key {
				continue
			}
			msg := field.Message
			if msg == "" {
				msg = f.Message()
			}
			next.Parameters[i].ValidationError = msg
			matched = true
		}
	}
	if !matched {
		return false
	}

	next.Status = StatusStarted
	m.logger.Info("gateway rejected parameters", map[string]any{"fields": len(fields)})
	m.setState(next)
	return true
}
