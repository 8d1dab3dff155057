package discordrpc

import (
	"context"
	"encoding/json"

	"discord-rpc/internal/domain"
)

type setActivityArgs struct {
	PID      int                     `json:"pid"`
	Activity *domain.ActivityPayload `json:"activity,omitempty"`
}

// SetActivity publishes a rich presence for the process pid.
func (c *Client) SetActivity(ctx context.Context, pid int, activity Activity) (json.RawMessage, error) {
	if err := activity.Validate(); err != nil {
		return nil, domain.WrapOp("discordrpc.SetActivity", err)
	}
	payload := activity.Payload()
	return c.Request(ctx, domain.CmdSetActivity, setActivityArgs{PID: pid, Activity: &payload}, "")
}

// ClearActivity removes the rich presence of the process pid.
func (c *Client) ClearActivity(ctx context.Context, pid int) (json.RawMessage, error) {
	return c.Request(ctx, domain.CmdSetActivity, setActivityArgs{PID: pid}, "")
}

// Subscription is an active server event subscription.
type Subscription struct {
	client *Client
	evt    EventName
	args   json.RawMessage
}

// Event returns the subscribed event name.
func (s *Subscription) Event() EventName { return s.evt }

// Unsubscribe sends UNSUBSCRIBE with the original arguments.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	_, err := s.client.Request(ctx, domain.CmdUnsubscribe, s.args, s.evt)
	return err
}

// Subscribe asks the server to dispatch evt. Matching notifications arrive
// as EventDispatch with Name set to evt.
func (c *Client) Subscribe(ctx context.Context, evt EventName, args any) (*Subscription, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		return nil, domain.NewDomainError("discordrpc.Subscribe", domain.ErrInvalidInput, err.Error())
	}
	if _, err := c.Request(ctx, domain.CmdSubscribe, raw, evt); err != nil {
		return nil, err
	}
	return &Subscription{client: c, evt: evt, args: raw}, nil
}
