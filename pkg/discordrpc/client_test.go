package discordrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-rpc/internal/domain"
)

func TestConnectReady(t *testing.T) {
	c, _, rec := connected(t)

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "https://cdn.discordapp.com", c.CDNHost())
	assert.Equal(t, "//discord.com/api", c.APIEndpoint())
	require.NotNil(t, c.User())
	assert.Equal(t, "42", c.User().ID)

	assert.Eventually(t, func() bool { return rec.count(EventConnected) == 1 }, time.Second, 5*time.Millisecond)

	// Already connected: no new attempt.
	require.NoError(t, c.Connect(context.Background()))
}

func TestConnectSharesInFlightAttempt(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{onConnect: func(f *fakeTransport) {
		go func() {
			<-release
			f.ready()
		}()
	}}
	c, rec := newTestClient(t, ft)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Connect(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return c.State() == StateAwaitingReady }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	connects, _ := ft.counts()
	assert.Equal(t, 1, connects)
	assert.Eventually(t, func() bool { return rec.count(EventConnected) == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnectTimeout(t *testing.T) {
	ft := &fakeTransport{}
	c, rec := newTestClient(t, ft, WithConnectTimeout(50*time.Millisecond))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.Equal(t, domain.CodeConnectionTimeout, domain.ErrorCodeOf(err))
	assert.Equal(t, StateDisconnected, c.State())

	assert.Eventually(t, func() bool {
		_, closes := ft.counts()
		return closes == 1
	}, time.Second, 5*time.Millisecond, "transport closed after timeout")

	// A READY after the deadline does not revive the attempt.
	ft.ready()
	assert.Equal(t, StateDisconnected, c.State())

	require.NoError(t, c.Destroy(context.Background()))
	assert.Zero(t, rec.count(EventConnected))
	assert.Zero(t, rec.count(EventDisconnected))
}

func TestConnectCloseBeforeReady(t *testing.T) {
	ft := &fakeTransport{onConnect: func(f *fakeTransport) { f.serverClose("invalid client id") }}
	c, rec := newTestClient(t, ft)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionEnded)
	var ended *ConnectionEndedError
	require.True(t, errors.As(err, &ended))
	assert.Equal(t, "invalid client id", ended.Reason)

	require.NoError(t, c.Destroy(context.Background()))
	assert.Zero(t, rec.count(EventConnected))
	assert.Zero(t, rec.count(EventDisconnected))
}

func TestConnectTransportError(t *testing.T) {
	ft := &fakeTransport{connectErr: domain.NewDomainError("ipc.Connect", domain.ErrCouldNotFindClient, "no socket")}
	c, _ := newTestClient(t, ft)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCouldNotFindClient)
	assert.Equal(t, StateDisconnected, c.State())

	// A new attempt is allowed after a failure.
	ft.mu.Lock()
	ft.connectErr = nil
	ft.onConnect = func(f *fakeTransport) { f.ready() }
	ft.mu.Unlock()
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
}

func TestConnectCallerCancel(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{onConnect: func(f *fakeTransport) {
		go func() {
			<-release
			f.ready()
		}()
	}}
	c, _ := newTestClient(t, ft)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Connect(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The attempt keeps running for other callers.
	close(release)
	require.NoError(t, c.Connect(context.Background()))
	connects, _ := ft.counts()
	assert.Equal(t, 1, connects)
}

func TestRequestNotConnected(t *testing.T) {
	c, _ := newTestClient(t, &fakeTransport{})
	_, err := c.Request(context.Background(), domain.CmdGetGuilds, nil, "")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConcurrentRequestsResolveOutOfOrder(t *testing.T) {
	const n = 20
	c, ft, _ := connected(t)

	var mu sync.Mutex
	var held []domain.OutgoingCommand
	ft.setOnSend(func(f *fakeTransport, cmd domain.OutgoingCommand) {
		mu.Lock()
		held = append(held, cmd)
		all := len(held) == n
		batch := append([]domain.OutgoingCommand(nil), held...)
		mu.Unlock()
		if !all {
			return
		}
		for i := len(batch) - 1; i >= 0; i-- {
			echo(f, batch[i])
		}
	})

	var wg sync.WaitGroup
	results := make([]json.RawMessage, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Request(context.Background(), domain.CmdGetChannel, map[string]int{"i": i}, "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, fmt.Sprintf(`{"i":%d}`, i), string(results[i]))
	}
	assert.Zero(t, c.pending.Len())
}

func TestErrorResponseRejectsOnlyThatRequest(t *testing.T) {
	c, ft, _ := connected(t)

	ft.setOnSend(func(f *fakeTransport, cmd domain.OutgoingCommand) {
		if cmd.Cmd == domain.CmdGetGuild {
			f.fail(cmd, int(domain.RPCInvalidPayload), "bad guild")
			return
		}
		echo(f, cmd)
	})

	_, err := c.Request(context.Background(), domain.CmdGetGuild, map[string]string{"guild_id": "x"}, "")
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, domain.RPCInvalidPayload, rpcErr.Code)
	assert.Equal(t, "bad guild", rpcErr.Message)
	assert.Equal(t, domain.CodeRPCError, domain.ErrorCodeOf(err))

	data, err := c.Request(context.Background(), domain.CmdGetChannel, map[string]string{"channel_id": "y"}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel_id":"y"}`, string(data))
}

func TestServerCloseRejectsEveryPendingRequest(t *testing.T) {
	const k = 5
	c, ft, rec := connected(t)

	sent := make(chan struct{}, k)
	ft.setOnSend(func(*fakeTransport, domain.OutgoingCommand) { sent <- struct{}{} })

	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Request(context.Background(), domain.CmdGetGuilds, nil, "")
			errs <- err
		}()
	}
	for i := 0; i < k; i++ {
		<-sent
	}

	ft.serverClose("connection reset")
	wg.Wait()
	close(errs)

	for err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConnectionEnded)
	}
	assert.Equal(t, StateDisconnected, c.State())

	require.NoError(t, c.Destroy(context.Background()))
	assert.Equal(t, 1, rec.count(EventDisconnected))
	ev, _ := rec.find(EventDisconnected)
	assert.Equal(t, "connection reset", ev.Message)
	assert.ErrorIs(t, ev.Err, ErrConnectionEnded)
}

func TestRequestContextCancelForgetsNonce(t *testing.T) {
	c, _, _ := connected(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, domain.CmdGetGuilds, nil, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.pending.Len())
}

func TestUnsolicitedDispatchIsPublished(t *testing.T) {
	_, ft, rec := connected(t)

	ft.message(domain.IncomingCommand{
		Cmd:  domain.CmdDispatch,
		Evt:  domain.EvtMessageCreate,
		Data: json.RawMessage(`{"channel_id":"1"}`),
	})

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, ev := range rec.events {
			if ev.Kind == EventDispatch && ev.Name == domain.EvtMessageCreate {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestUnknownNonceIgnored(t *testing.T) {
	c, ft, _ := connected(t)
	ft.message(domain.IncomingCommand{Cmd: domain.CmdGetGuild, Nonce: "nobody", Data: json.RawMessage(`{}`)})
	assert.Equal(t, StateConnected, c.State())
}

func TestDebugNotifications(t *testing.T) {
	c, ft, rec := connected(t, WithDebug(true))
	ft.setOnSend(echo)

	_, err := c.Request(context.Background(), domain.CmdGetGuilds, nil, "")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return rec.count(EventDebug) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestDestroy(t *testing.T) {
	c, ft, rec := connected(t)

	sent := make(chan struct{}, 1)
	ft.setOnSend(func(*fakeTransport, domain.OutgoingCommand) { sent <- struct{}{} })
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), domain.CmdGetGuilds, nil, "")
		errCh <- err
	}()
	<-sent

	require.NoError(t, c.Destroy(context.Background()))
	assert.Error(t, <-errCh)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, rec.count(EventDisconnected))

	assert.ErrorIs(t, c.Connect(context.Background()), ErrDestroyed)
	assert.NoError(t, c.Destroy(context.Background()), "second destroy is a no-op")
}

func TestRateLimitedRequest(t *testing.T) {
	c, ft, _ := connected(t, WithRateLimit(1, 1))
	ft.setOnSend(echo)

	_, err := c.Request(context.Background(), domain.CmdGetGuilds, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Request(ctx, domain.CmdGetGuilds, nil, "")
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}

func TestDefaultResolverScansEveryInstance(t *testing.T) {
	c := New("123456789")
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })

	urls := c.endpointResolver().WebSocketURLs("123456789")
	require.Len(t, urls, 10)
	assert.Contains(t, urls[0].Address, "127.0.0.1:6463/")
	assert.Contains(t, urls[9].Address, "127.0.0.1:6472/")
}

func TestPinnedInstanceResolver(t *testing.T) {
	c := New("123456789", WithInstanceID(2))
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })

	urls := c.endpointResolver().WebSocketURLs("123456789")
	require.Len(t, urls, 1)
	assert.Contains(t, urls[0].Address, "127.0.0.1:6465/")
}
