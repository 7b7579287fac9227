// Package auth answers the token messages exchanged with the background
// component and supplies the bearer token for signal saves.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/kol-signals/pkg/db"
)

const (
	MsgGetAuthToken  = "GET_AUTH_TOKEN"
	MsgSaveAuthToken = "SAVE_AUTH_TOKEN"

	ReplyAuthToken = "auth-token"
	ReplyAck       = "ack"
)

var (
	ErrEmptyToken     = errors.New("auth token is empty")
	ErrExpired        = errors.New("auth token already expired")
	ErrInvalidAddress = errors.New("wallet address is neither an EVM nor a Solana address")
	ErrUnknownMessage = errors.New("unknown auth message")
)

type Store interface {
	SaveAuthToken(ctx context.Context, t db.AuthToken) error
	AuthToken(ctx context.Context, now time.Time) (*db.AuthToken, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Expiry accepts either epoch milliseconds or an RFC 3339 string.
type Expiry struct{ time.Time }

func (e *Expiry) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		e.Time = time.Time{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		e.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("expiry: %w", err)
	}
	e.Time = t
	return nil
}

// Message is the inbound shape of both auth messages.
type Message struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Address string `json:"address,omitempty"`
	Handle  string `json:"handle,omitempty"`
	Expiry  Expiry `json:"expiry"`
}

type Reply struct {
	Type  string  `json:"type"`
	Token *string `json:"token,omitempty"`
	OK    bool    `json:"ok,omitempty"`
	Error string  `json:"error,omitempty"`
}

// MarshalJSON keeps token present as null when there is none.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Type == ReplyAuthToken {
		return json.Marshal(struct {
			Type  string  `json:"type"`
			Token *string `json:"token"`
		}{r.Type, r.Token})
	}
	type plain Reply
	return json.Marshal(plain(r))
}

type Broker struct {
	store Store
	now   func() time.Time
}

func NewBroker(store Store) *Broker {
	return &Broker{store: store, now: time.Now}
}

// Handle answers one auth message.
func (b *Broker) Handle(ctx context.Context, msg Message) (Reply, error) {
	switch msg.Type {
	case MsgGetAuthToken:
		tok, err := b.Token(ctx)
		if err != nil {
			return Reply{}, err
		}
		r := Reply{Type: ReplyAuthToken}
		if tok != "" {
			r.Token = &tok
		}
		return r, nil

	case MsgSaveAuthToken:
		err := b.Save(ctx, db.AuthToken{
			Token:     msg.Token,
			Address:   msg.Address,
			Handle:    msg.Handle,
			ExpiresAt: msg.Expiry.Time,
		})
		if err != nil {
			return Reply{Type: ReplyAck, Error: err.Error()}, err
		}
		return Reply{Type: ReplyAck, OK: true}, nil
	}
	return Reply{}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}

// Token returns the stored, unexpired token or "".
func (b *Broker) Token(ctx context.Context) (string, error) {
	t, err := b.store.AuthToken(ctx, b.now())
	if err != nil {
		return "", fmt.Errorf("read auth token: %w", err)
	}
	if t == nil {
		return "", nil
	}
	return t.Token, nil
}

func (b *Broker) Save(ctx context.Context, t db.AuthToken) error {
	if strings.TrimSpace(t.Token) == "" {
		return ErrEmptyToken
	}
	if !t.ExpiresAt.After(b.now()) {
		return ErrExpired
	}
	if t.Address != "" && !validWallet(t.Address) {
		return ErrInvalidAddress
	}
	if err := b.store.SaveAuthToken(ctx, t); err != nil {
		return fmt.Errorf("save auth token: %w", err)
	}
	log.Info().Str("address", t.Address).Str("handle", t.Handle).Time("expires", t.ExpiresAt).Msg("auth token saved")
	return nil
}

func validWallet(addr string) bool {
	if common.IsHexAddress(addr) {
		return true
	}
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}
