package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/facebookgo/clock"

	"github.com/vitwit/apmkit/types"
)

// confirmation tracks one AwaitingConfirmation phase.
type confirmation struct {
	started          time.Time
	deadline         time.Time
	timeout          *clock.Timer
	poll             *clock.Timer
	redirectConsumed bool
}

func (c *confirmation) stop() {
	if c.timeout != nil {
		c.timeout.Stop()
	}
	if c.poll != nil {
		c.poll.Stop()
	}
}

// awaitConfirmation enters StatusAwaitingConfirmation. The timeout is armed
// before the state is published.
func (m *Machine) awaitConfirmation(res *types.AuthorizationResult) {
	conf := m.confirm
	if conf == nil {
		now := m.clock.Now()
		conf = &confirmation{
			started:  now,
			deadline: now.Add(m.cfg.ConfirmationTimeout),
		}
		m.confirm = conf
		conf.timeout = m.clock.AfterFunc(m.cfg.ConfirmationTimeout, func() {
			m.post(func() {
				if m.confirm == conf {
					m.expire()
				}
			})
		})
	}

	next := m.current().clone()
	next.Status = StatusAwaitingConfirmation
	next.Redirect = res.Redirect
	next.Elements = res.Elements
	if res.GatewayConfigurationID != "" {
		next.GatewayConfigurationID = res.GatewayConfigurationID
	}
	if res.Redirect != nil && m.returnURL == nil {
		m.logger.Warn("redirect required but no return url is configured", map[string]any{"url": res.Redirect.URL})
	}
	m.setState(next)

	if res.Redirect == nil {
		m.poll(conf)
	}
}

func (m *Machine) expire() {
	m.fail(types.TimeoutFailure(fmt.Errorf("payment not confirmed within %s: %w",
		m.cfg.ConfirmationTimeout, context.DeadlineExceeded)))
}

func (m *Machine) expired(conf *confirmation) bool {
	return !m.clock.Now().Before(conf.deadline)
}

func (m *Machine) poll(conf *confirmation) {
	m.launch(types.ContinueRequest{}, func(res *types.AuthorizationResult, err error) {
		m.handlePoll(conf, res, err)
	})
}

func (m *Machine) schedulePoll(conf *confirmation) {
	conf.poll = m.clock.AfterFunc(m.cfg.PollInterval, func() {
		m.post(func() {
			if m.confirm == conf && m.current().Status == StatusAwaitingConfirmation {
				m.poll(conf)
			}
		})
	})
}

func (m *Machine) handlePoll(conf *confirmation, res *types.AuthorizationResult, err error) {
	if m.confirm != conf {
		return
	}
	if m.expired(conf) {
		m.expire()
		return
	}

	if err != nil {
		switch types.KindOf(err) {
		case types.KindNetworkUnreachable, types.KindTimeout:
			m.logger.Debug("confirmation poll failed, retrying", map[string]any{"error": err})
			m.schedulePoll(conf)
		default:
			m.fail(err)
		}
		return
	}

	switch res.State {
	case types.StateCaptured:
		m.captured()
	case types.StatePendingCapture:
		m.schedulePoll(conf)
	default:
		m.fail(types.InternalFailure(fmt.Errorf("unexpected %s while awaiting confirmation", res.State)))
	}
}

// HandleRedirect consumes a redirect callback. It reports whether u matched
// the configured return URL and advanced the payment.
func (m *Machine) HandleRedirect(u *url.URL) bool {
	if u == nil {
		return false
	}
	handled := false
	m.exec(func() {
		cur := m.current()
		conf := m.confirm
		if cur.Status != StatusAwaitingConfirmation || cur.Redirect == nil || conf == nil || conf.redirectConsumed {
			return
		}
		if !m.matchesReturnURL(u) {
			m.logger.Debug("ignoring redirect", map[string]any{"url": u.Redacted()})
			return
		}

		conf.redirectConsumed = true
		next := cur.clone()
		next.Redirect = nil
		m.setState(next)

		m.launch(types.ContinueRequest{
			Redirect: &types.RedirectResult{Success: true},
		}, func(res *types.AuthorizationResult, err error) {
			m.handleRedirectResult(conf, res, err)
		})
		handled = true
	})
	return handled
}

func (m *Machine) handleRedirectResult(conf *confirmation, res *types.AuthorizationResult, err error) {
	if m.confirm != conf {
		return
	}
	if m.expired(conf) {
		m.expire()
		return
	}
	if err != nil {
		m.fail(err)
		return
	}

	switch res.State {
	case types.StateCaptured:
		m.captured()
	case types.StatePendingCapture:
		m.poll(conf)
	default:
		m.fail(types.InternalFailure(fmt.Errorf("unexpected %s after redirect", res.State)))
	}
}

func (m *Machine) matchesReturnURL(u *url.URL) bool {
	if m.returnURL == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, m.returnURL.Scheme) && strings.EqualFold(u.Host, m.returnURL.Host)
}
