package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-rpc/internal/domain"
)

func TestTracker_ResolveMatchesNonce(t *testing.T) {
	tr := NewTracker()
	ch, err := tr.Register("a")
	require.NoError(t, err)

	ok := tr.Resolve(domain.IncomingCommand{Cmd: domain.CmdGetGuild, Nonce: "a", Data: json.RawMessage(`{"id":"1"}`)})
	require.True(t, ok)

	res := <-ch
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"id":"1"}`, string(res.Message.Data))
	assert.Zero(t, tr.Len())
}

func TestTracker_DuplicateNonce(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Register("a")
	require.NoError(t, err)
	_, err = tr.Register("a")
	assert.ErrorIs(t, err, domain.ErrDuplicateNonce)
}

func TestTracker_UnmatchedNonceIgnored(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Register("a")
	require.NoError(t, err)

	assert.False(t, tr.Resolve(domain.IncomingCommand{Cmd: domain.CmdGetGuild, Nonce: "zzz"}))
	assert.False(t, tr.Resolve(domain.IncomingCommand{Cmd: domain.CmdDispatch}))
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_ErrorRejectsOnlyThatEntry(t *testing.T) {
	tr := NewTracker()
	bad, err := tr.Register("bad")
	require.NoError(t, err)
	good, err := tr.Register("good")
	require.NoError(t, err)

	tr.Resolve(domain.IncomingCommand{
		Cmd:   domain.CmdAuthenticate,
		Evt:   domain.EvtError,
		Nonce: "bad",
		Data:  json.RawMessage(`{"code":4009,"message":"Invalid OAuth2 access token"}`),
	})

	res := <-bad
	var rpcErr *domain.RPCError
	require.True(t, errors.As(res.Err, &rpcErr))
	assert.Equal(t, domain.RPCInvalidToken, rpcErr.Code)
	assert.Equal(t, "Invalid OAuth2 access token", rpcErr.Message)

	select {
	case <-good:
		t.Fatal("unrelated entry was settled")
	default:
	}
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_ReverseOrderDelivery(t *testing.T) {
	const n = 50
	tr := NewTracker()
	chans := make([]<-chan Result, n)
	for i := range chans {
		ch, err := tr.Register(fmt.Sprintf("n%d", i))
		require.NoError(t, err)
		chans[i] = ch
	}

	for i := n - 1; i >= 0; i-- {
		tr.Resolve(domain.IncomingCommand{
			Cmd:   domain.CmdGetUser,
			Nonce: fmt.Sprintf("n%d", i),
			Data:  json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)),
		})
	}

	for i, ch := range chans {
		res := <-ch
		require.NoError(t, res.Err)
		assert.JSONEq(t, fmt.Sprintf(`{"i":%d}`, i), string(res.Message.Data))
	}
}

func TestTracker_RejectAll(t *testing.T) {
	tr := NewTracker()
	var chans []<-chan Result
	for i := 0; i < 5; i++ {
		ch, err := tr.Register(fmt.Sprintf("n%d", i))
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	cause := &domain.ConnectionEndedError{Reason: "bye"}
	assert.Equal(t, 5, tr.RejectAll(cause))
	for _, ch := range chans {
		res := <-ch
		assert.ErrorIs(t, res.Err, domain.ErrConnectionEnded)
	}
	assert.Zero(t, tr.Len())
	assert.Zero(t, tr.RejectAll(cause))
}

func TestTracker_Forget(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Register("a")
	require.NoError(t, err)
	tr.Forget("a")
	assert.False(t, tr.Resolve(domain.IncomingCommand{Cmd: domain.CmdGetUser, Nonce: "a"}))
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nonce := fmt.Sprintf("c%d", i)
			ch, err := tr.Register(nonce)
			if err != nil {
				t.Error(err)
				return
			}
			tr.Resolve(domain.IncomingCommand{Cmd: domain.CmdGetUser, Nonce: nonce})
			<-ch
		}(i)
	}
	wg.Wait()
	assert.Zero(t, tr.Len())
}
