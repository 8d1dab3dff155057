package discordrpc

import (
	"context"
	"errors"
	"time"

	"discord-rpc/internal/adapter/wire"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/tracer"
)

// connectAttempt is shared by every Connect call made while it is in
// flight. done is closed once, when the attempt settles.
type connectAttempt struct {
	done    chan struct{}
	err     error
	settled bool
}

// Connect opens the transport and waits for READY. Concurrent calls share
// one attempt. A cancelled ctx stops this caller waiting but the attempt
// keeps running until READY, the connect timeout or a transport close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return domain.WrapOp("discordrpc.Connect", domain.ErrDestroyed)
	}
	if c.state == domain.StateConnected {
		c.mu.Unlock()
		return nil
	}
	a := c.attempt
	if a == nil {
		a = &connectAttempt{done: make(chan struct{})}
		c.attempt = a
		c.state = domain.StateConnecting
		go c.runConnect(a)
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return domain.WrapOp("discordrpc.Connect", ctx.Err())
	}
}

func (c *Client) runConnect(a *connectAttempt) {
	ctx, span := tracer.StartSpan(context.Background(), tracer.SpanConnect,
		tracer.StringAttr("transport", c.transport.Name()))
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	start := time.Now()
	err := c.transport.Connect(ctx, func(ev domain.TransportEvent) { c.handleTransport(a, ev) })
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.NewDomainError("discordrpc.Connect", domain.ErrConnectionTimeout, err.Error())
		}
		c.settle(a, err)
		tracer.End(span, a.err)
		return
	}

	c.mu.Lock()
	destroyed := c.destroyed
	if c.attempt == a && c.state == domain.StateConnecting {
		c.state = domain.StateAwaitingReady
	}
	c.mu.Unlock()
	if destroyed {
		c.closeTransport()
		tracer.End(span, domain.ErrDestroyed)
		return
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		if c.settle(a, domain.NewDomainError("discordrpc.Connect", domain.ErrConnectionTimeout,
			"no READY within "+c.connectTimeout.String())) {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
			if err := c.transport.Close(closeCtx); err != nil {
				c.logger.Debug("close after timeout failed", "error", err)
			}
			closeCancel()
		}
	}

	if a.err == nil {
		c.logger.Info("connected", "transport", c.transport.Name(), "elapsed", time.Since(start))
	} else {
		c.logger.Warn("connect failed", "transport", c.transport.Name(), "error", a.err)
	}
	tracer.End(span, a.err)
}

// settle resolves a exactly once. It reports whether this call settled it.
func (c *Client) settle(a *connectAttempt, err error) bool {
	c.mu.Lock()
	if a.settled {
		c.mu.Unlock()
		return false
	}
	a.settled = true
	a.err = err
	if c.attempt == a {
		c.attempt = nil
	}
	if err == nil && !c.destroyed {
		c.state = domain.StateConnected
		c.live = a
	} else {
		c.state = domain.StateDisconnected
	}
	connected := c.live == a
	close(a.done)
	c.mu.Unlock()

	if connected {
		c.publish(context.Background(), domain.Event{Kind: domain.EventConnected})
	}
	return true
}

// handleTransport runs on the transport read goroutine.
func (c *Client) handleTransport(a *connectAttempt, ev domain.TransportEvent) {
	ctx := context.Background()
	switch ev.Kind {
	case domain.TransportOpen:
		c.publishDebug(ctx, "transport open", nil)

	case domain.TransportMessage:
		c.handleMessage(a, ev.Message)

	case domain.TransportPing:
		c.publishDebug(ctx, "ping", ev.Payload)

	case domain.TransportError:
		c.logger.Warn("transport error", "transport", c.transport.Name(), "error", ev.Err)
		c.publishDebug(ctx, "transport error: "+errString(ev.Err), nil)

	case domain.TransportClose:
		c.handleClose(a, ev)
	}
}

func (c *Client) handleMessage(a *connectAttempt, msg domain.IncomingCommand) {
	ctx := context.Background()
	if c.debug {
		c.publishDebug(ctx, "receive "+string(msg.Cmd), msg.Data)
	}

	switch {
	case msg.IsReady():
		c.handleReady(a, msg)
	case msg.Nonce != "":
		if !c.pending.Resolve(msg) {
			c.logger.Debug("response for unknown nonce", "nonce", msg.Nonce, "cmd", string(msg.Cmd))
		}
	}

	c.publish(ctx, domain.Event{Kind: domain.EventDispatch, Name: msg.Evt, Data: msg.Data})
}

func (c *Client) handleReady(a *connectAttempt, msg domain.IncomingCommand) {
	c.mu.Lock()
	pendingAttempt := !a.settled
	c.mu.Unlock()
	if !pendingAttempt {
		c.logger.Debug("ignoring READY outside a connect attempt")
		return
	}

	ready, err := wire.DecodeReady(msg)
	if err != nil {
		if c.settle(a, domain.WrapOp("discordrpc.Connect", err)) {
			go c.closeTransport()
		}
		return
	}

	c.mu.Lock()
	c.cdnHost = ready.Config.CDNHost
	c.apiEndpoint = ready.Config.APIEndpoint
	if ready.User != nil {
		c.user = ready.User
	}
	c.mu.Unlock()

	c.settle(a, nil)
}

func (c *Client) handleClose(a *connectAttempt, ev domain.TransportEvent) {
	ended := &domain.ConnectionEndedError{Reason: ev.Reason}

	// Closed before READY: the attempt fails and nothing was connected.
	if c.settle(a, domain.WrapOp("discordrpc.Connect", ended)) {
		return
	}

	c.mu.Lock()
	wasLive := c.live == a
	if wasLive {
		c.live = nil
	}
	c.mu.Unlock()
	if !wasLive {
		return
	}

	n := c.pending.RejectAll(ended)
	c.mu.Lock()
	c.state = domain.StateDisconnected
	c.mu.Unlock()
	c.logger.Info("disconnected", "reason", ev.Reason, "rejected", n)
	c.publish(context.Background(), domain.Event{
		Kind:    domain.EventDisconnected,
		Message: ev.Reason,
		Err:     ended,
	})
}

func (c *Client) closeTransport() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.transport.Close(ctx); err != nil {
		c.logger.Debug("transport close failed", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
