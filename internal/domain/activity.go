package domain

import (
	"fmt"
	"time"
)

// Activity limits enforced before SET_ACTIVITY is sent.
const (
	MaxActivityButtons   = 2
	MaxButtonLabelLength = 32
	MaxButtonURLLength   = 512
)

// ActivityButton is a clickable link shown under a rich presence.
type ActivityButton struct {
	Label string `json:"label" yaml:"label"`
	URL   string `json:"url" yaml:"url"`
}

// Activity is the caller-facing rich presence description. Zero fields are
// omitted from the payload.
type Activity struct {
	Type           int              `yaml:"type"`
	Details        string           `yaml:"details"`
	State          string           `yaml:"state"`
	StartTimestamp time.Time        `yaml:"start_timestamp"`
	EndTimestamp   time.Time        `yaml:"end_timestamp"`
	LargeImageKey  string           `yaml:"large_image_key"`
	LargeImageText string           `yaml:"large_image_text"`
	SmallImageKey  string           `yaml:"small_image_key"`
	SmallImageText string           `yaml:"small_image_text"`
	PartyID        string           `yaml:"party_id"`
	PartySize      int              `yaml:"party_size"`
	PartyMax       int              `yaml:"party_max"`
	JoinSecret     string           `yaml:"join_secret"`
	SpectateSecret string           `yaml:"spectate_secret"`
	MatchSecret    string           `yaml:"match_secret"`
	Instance       bool             `yaml:"instance"`
	Buttons        []ActivityButton `yaml:"buttons"`
}

// Validate checks the limits the server enforces on a presence.
func (a Activity) Validate() error {
	if len(a.Buttons) > MaxActivityButtons {
		return NewDomainError("Activity.Validate", ErrInvalidInput,
			fmt.Sprintf("at most %d buttons allowed, got %d", MaxActivityButtons, len(a.Buttons)))
	}
	for i, b := range a.Buttons {
		if b.Label == "" || len(b.Label) > MaxButtonLabelLength {
			return NewDomainError("Activity.Validate", ErrInvalidInput,
				fmt.Sprintf("button %d label must be 1-%d characters", i, MaxButtonLabelLength))
		}
		if b.URL == "" || len(b.URL) > MaxButtonURLLength {
			return NewDomainError("Activity.Validate", ErrInvalidInput,
				fmt.Sprintf("button %d url must be 1-%d characters", i, MaxButtonURLLength))
		}
	}
	if a.PartySize < 0 || a.PartyMax < 0 {
		return NewDomainError("Activity.Validate", ErrInvalidInput, "party size must not be negative")
	}
	if a.PartySize > 0 && a.PartyMax > 0 && a.PartySize > a.PartyMax {
		return NewDomainError("Activity.Validate", ErrInvalidInput, "party size exceeds party max")
	}
	if !a.StartTimestamp.IsZero() && !a.EndTimestamp.IsZero() && a.EndTimestamp.Before(a.StartTimestamp) {
		return NewDomainError("Activity.Validate", ErrInvalidInput, "end timestamp precedes start timestamp")
	}
	return nil
}

// ActivityPayload is the wire shape of an activity inside SET_ACTIVITY.
type ActivityPayload struct {
	Type       int                 `json:"type,omitempty"`
	Details    string              `json:"details,omitempty"`
	State      string              `json:"state,omitempty"`
	Timestamps *ActivityTimestamps `json:"timestamps,omitempty"`
	Assets     *ActivityAssets     `json:"assets,omitempty"`
	Party      *ActivityParty      `json:"party,omitempty"`
	Secrets    *ActivitySecrets    `json:"secrets,omitempty"`
	Instance   bool                `json:"instance"`
	Buttons    []ActivityButton    `json:"buttons,omitempty"`
}

// ActivityTimestamps holds unix millisecond bounds.
type ActivityTimestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

type ActivityAssets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

type ActivityParty struct {
	ID   string `json:"id,omitempty"`
	Size []int  `json:"size,omitempty"`
}

type ActivitySecrets struct {
	Join     string `json:"join,omitempty"`
	Spectate string `json:"spectate,omitempty"`
	Match    string `json:"match,omitempty"`
}

// Payload maps the activity onto its wire shape. Empty groups are dropped.
func (a Activity) Payload() ActivityPayload {
	p := ActivityPayload{
		Type:     a.Type,
		Details:  a.Details,
		State:    a.State,
		Instance: a.Instance,
		Buttons:  a.Buttons,
	}

	if !a.StartTimestamp.IsZero() || !a.EndTimestamp.IsZero() {
		ts := &ActivityTimestamps{}
		if !a.StartTimestamp.IsZero() {
			ts.Start = a.StartTimestamp.UnixMilli()
		}
		if !a.EndTimestamp.IsZero() {
			ts.End = a.EndTimestamp.UnixMilli()
		}
		p.Timestamps = ts
	}

	assets := ActivityAssets{
		LargeImage: a.LargeImageKey,
		LargeText:  a.LargeImageText,
		SmallImage: a.SmallImageKey,
		SmallText:  a.SmallImageText,
	}
	if assets != (ActivityAssets{}) {
		p.Assets = &assets
	}

	if a.PartyID != "" || (a.PartySize > 0 && a.PartyMax > 0) {
		party := &ActivityParty{ID: a.PartyID}
		if a.PartySize > 0 && a.PartyMax > 0 {
			party.Size = []int{a.PartySize, a.PartyMax}
		}
		p.Party = party
	}

	secrets := ActivitySecrets{Join: a.JoinSecret, Spectate: a.SpectateSecret, Match: a.MatchSecret}
	if secrets != (ActivitySecrets{}) {
		p.Secrets = &secrets
	}

	return p
}
