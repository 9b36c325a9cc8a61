// Package gamesession drives one game over the realtime channel: it sends
// bet, cashout, init and next-round commands with bounded retries and feeds
// the game's snapshot, history and wallet events back into the wallet.
package gamesession

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/azebets/walletsync/internal/clients"
	"github.com/azebets/walletsync/internal/domain"
	"github.com/azebets/walletsync/internal/metrics"
	"github.com/azebets/walletsync/pkg/retrier"
)

const (
	maxBets         = 50
	historyPageSize = 20
	// balance pushes are shared by all games
	walletBalanceEvent = "wallet-balance"
	activeWalletEvent  = "active-wallet"
)

var (
	// ErrCommandFailed is returned when a command was never acknowledged.
	ErrCommandFailed = errors.New("realtime command failed")
	// ErrNoHistory is returned by REST operations when no history client is set.
	ErrNoHistory = errors.New("history client not configured")
)

// Channel is the realtime transport.
type Channel interface {
	Emit(ctx context.Context, event string, data any) error
	On(event string, h clients.Handler)
}

// Wallet is the part of the wallet a game needs.
type Wallet interface {
	CreateDeduction(amount decimal.Decimal, currency string, typ domain.DeductionType, timeout time.Duration) (domain.DeductionID, error)
	ResolveDeduction(id domain.DeductionID, notify bool)
	DeleteDeduction(id domain.DeductionID, notify bool) bool
	CancelDeductionsByType(typ domain.DeductionType) int
	OnWalletPush(b domain.WalletBalance)
	OnActiveWallet(b domain.WalletBalance)
	OnBalanceChange(ch domain.BalanceChange) error
}

// History is the REST side of a game.
type History interface {
	GameHistory(ctx context.Context, game string, page, size int) (json.RawMessage, error)
	RecordLostBet(ctx context.Context, game string, payload any) (json.RawMessage, error)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetryPolicy sets the backoff of commands. Only unacknowledged
// commands are retried.
func WithRetryPolicy(opts ...retrier.Option) Option {
	return func(s *Session) {
		s.retrier = newRetrier(opts...)
	}
}

func newRetrier(opts ...retrier.Option) *retrier.Retrier {
	opts = append(opts, retrier.WithRetryIf(func(err error) bool {
		return errors.Is(err, clients.ErrNoAck)
	}))
	return retrier.New(opts...)
}

// WithHistory sets the REST client for history and lost bets.
func WithHistory(h History) Option {
	return func(s *Session) {
		s.history = h
	}
}

// WithDeductionTimeout sets the expiry of bet deductions.
func WithDeductionTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.deductionTimeout = d
	}
}

// OnState registers a callback for the user's game snapshots.
func OnState(fn func(json.RawMessage)) Option {
	return func(s *Session) {
		s.onState = fn
	}
}

// Session is one user's connection to one game.
type Session struct {
	game   string
	userID string

	channel Channel
	wallet  Wallet
	history History
	retrier *retrier.Retrier
	logger  *zap.Logger
	onState func(json.RawMessage)

	deductionTimeout time.Duration

	mu           sync.RWMutex
	state        json.RawMessage
	userBets     []json.RawMessage
	recentBets   []json.RawMessage
	processing   bool
	initializing bool
}

// New creates a session for game and registers its inbound handlers on ch.
func New(game, userID string, ch Channel, w Wallet, opts ...Option) *Session {
	s := &Session{
		game:             game,
		userID:           userID,
		channel:          ch,
		wallet:           w,
		logger:           zap.NewNop(),
		deductionTimeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retrier == nil {
		s.retrier = newRetrier()
	}
	s.logger = s.logger.With(zap.String("game", game))

	ch.On(s.event("game"), s.handleGame)
	ch.On(s.event("game-ended"), s.handleGameEnded)
	ch.On(s.event("history"), s.handleHistory)
	ch.On(s.event("wallet"), s.handleWallet)
	return s
}

// BindBalanceChanges forwards the shared balance and active-wallet pushes to
// w. It is registered once per channel, not per game.
func BindBalanceChanges(ch Channel, w Wallet, userID string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ch.On(walletBalanceEvent, func(data json.RawMessage) {
		var ref userRef
		if err := json.Unmarshal(data, &ref); err == nil && ref.UserID != "" && string(ref.UserID) != userID {
			return
		}
		var change domain.BalanceChange
		if err := json.Unmarshal(data, &change); err != nil {
			logger.Warn("malformed balance change", zap.Error(err))
			return
		}
		if err := w.OnBalanceChange(change); err != nil {
			logger.Warn("balance change rejected", zap.Error(err))
		}
	})
	ch.On(activeWalletEvent, func(data json.RawMessage) {
		var ref userRef
		if err := json.Unmarshal(data, &ref); err == nil && ref.UserID != "" && string(ref.UserID) != userID {
			return
		}
		var b domain.WalletBalance
		if err := json.Unmarshal(data, &b); err != nil {
			logger.Warn("malformed active wallet push", zap.Error(err))
			return
		}
		w.OnActiveWallet(b)
	})
}

// Game returns the game name.
func (s *Session) Game() string {
	return s.game
}

// Init asks the server for the current round and history.
func (s *Session) Init(ctx context.Context, data any) error {
	s.mu.Lock()
	s.initializing = true
	s.mu.Unlock()
	err := s.send(ctx, "init", data)
	if err != nil {
		s.mu.Lock()
		s.initializing = false
		s.mu.Unlock()
	}
	return err
}

// Bet sends a raw bet command.
func (s *Session) Bet(ctx context.Context, data any) error {
	return s.send(ctx, "bet", data)
}

// Cashout sends a cashout command.
func (s *Session) Cashout(ctx context.Context, data any) error {
	return s.send(ctx, "cashout", data)
}

// NextRound sends a next-round command.
func (s *Session) NextRound(ctx context.Context, data any) error {
	return s.send(ctx, "next-round", data)
}

// BetRequest is the payload of a bet placed through PlaceBet. The deduction
// id travels as frontgroundId so the balance push can be matched to it.
type BetRequest struct {
	DeductionID domain.DeductionID `json:"frontgroundId"`
	UserID      string             `json:"user_id"`
	Amount      decimal.Decimal    `json:"bet_amount"`
	Token       string             `json:"token"`
	Data        any                `json:"data,omitempty"`
}

// PlaceBet debits amount optimistically and sends the bet. The deduction is
// dropped again when the command fails.
func (s *Session) PlaceBet(ctx context.Context, amount decimal.Decimal, currency string, data any) (domain.DeductionID, error) {
	id, err := s.wallet.CreateDeduction(amount, currency, s.deductionType(), s.deductionTimeout)
	if err != nil {
		return 0, errors.Wrap(err, "reserve bet amount")
	}

	req := BetRequest{DeductionID: id, UserID: s.userID, Amount: amount, Token: currency, Data: data}
	if err := s.Bet(ctx, req); err != nil {
		s.wallet.DeleteDeduction(id, false)
		return 0, err
	}
	return id, nil
}

// ResolveBet records that the outcome of a bet is known.
func (s *Session) ResolveBet(id domain.DeductionID) {
	s.wallet.ResolveDeduction(id, true)
}

// CancelPending drops every outstanding deduction of this game.
func (s *Session) CancelPending() int {
	n := s.wallet.CancelDeductionsByType(s.deductionType())
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
	return n
}

// LoadHistory fetches a page of the user's bets and prepends them.
func (s *Session) LoadHistory(ctx context.Context, page int) ([]json.RawMessage, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	raw, err := s.history.GameHistory(ctx, s.game, page, historyPageSize)
	if err != nil {
		s.logger.Warn("failed to load history", zap.Error(err))
		return nil, err
	}
	var bets []json.RawMessage
	if err := json.Unmarshal(raw, &bets); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}

	s.mu.Lock()
	s.userBets = prepend(s.userBets, bets...)
	s.mu.Unlock()
	return bets, nil
}

// RecordLostBet stores a lost bet on the server and prepends the record.
func (s *Session) RecordLostBet(ctx context.Context, payload any) (json.RawMessage, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	rec, err := s.history.RecordLostBet(ctx, s.game, payload)
	if err != nil {
		s.logger.Warn("failed to record lost bet", zap.Error(err))
		return nil, err
	}
	if len(rec) > 0 {
		s.mu.Lock()
		s.userBets = prepend(s.userBets, rec)
		s.mu.Unlock()
	}
	return rec, nil
}

// State returns the latest snapshot of the user's game.
func (s *Session) State() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// UserBets returns the user's bets, newest first.
func (s *Session) UserBets() []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]json.RawMessage(nil), s.userBets...)
}

// RecentBets returns everyone's recent bets, newest first.
func (s *Session) RecentBets() []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]json.RawMessage(nil), s.recentBets...)
}

// Processing reports whether a command awaits its game snapshot.
func (s *Session) Processing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processing
}

// Initializing reports whether Init awaits the history backfill.
func (s *Session) Initializing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initializing
}

func (s *Session) send(ctx context.Context, command string, data any) error {
	event := s.event(command)

	s.mu.Lock()
	s.processing = true
	s.mu.Unlock()

	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		err := s.channel.Emit(ctx, event, data)
		if errors.Is(err, clients.ErrNoAck) {
			metrics.CommandRetries.WithLabelValues(event).Inc()
		}
		return err
	})
	if err == nil {
		return nil
	}

	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
	metrics.CommandFailures.WithLabelValues(event).Inc()
	s.logger.Error("command failed", zap.String("event", event), zap.Error(err))
	return errors.Wrapf(ErrCommandFailed, "%s: %v", event, err)
}

func (s *Session) handleGame(data json.RawMessage) {
	if !s.own(data) {
		return
	}
	s.mu.Lock()
	s.state = data
	s.processing = false
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(data)
	}
}

func (s *Session) handleGameEnded(data json.RawMessage) {
	own := s.own(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if own {
		s.userBets = prepend(s.userBets, data)
	}
	s.recentBets = prepend(s.recentBets, data)
}

func (s *Session) handleHistory(data json.RawMessage) {
	if !s.own(data) {
		return
	}
	var h struct {
		UserBets      []json.RawMessage `json:"userBets"`
		AllRecentBets []json.RawMessage `json:"allRecentBets"`
	}
	if err := json.Unmarshal(data, &h); err != nil {
		s.logger.Warn("malformed history", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.userBets = prepend(s.userBets, h.UserBets...)
	s.recentBets = prepend(s.recentBets, h.AllRecentBets...)
	s.initializing = false
	s.mu.Unlock()
}

func (s *Session) handleWallet(data json.RawMessage) {
	if !s.own(data) {
		return
	}
	var w struct {
		Token   string          `json:"token"`
		Image   string          `json:"coin_image"`
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		s.logger.Warn("malformed wallet push", zap.Error(err))
		return
	}
	s.wallet.OnWalletPush(domain.WalletBalance{CoinName: w.Token, CoinImage: w.Image, Balance: w.Balance})
}

// own reports whether a user-scoped payload belongs to this session's user.
func (s *Session) own(data json.RawMessage) bool {
	var ref userRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return false
	}
	return string(ref.UserID) == s.userID
}

func (s *Session) event(command string) string {
	return s.game + "-" + command
}

func (s *Session) deductionType() domain.DeductionType {
	return domain.DeductionType(s.game)
}

// flexID accepts both string and numeric user ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return errors.Wrap(err, "user id")
	}
	*f = flexID(b)
	return nil
}

type userRef struct {
	UserID flexID `json:"user_id"`
}

func prepend(list []json.RawMessage, items ...json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items)+len(list))
	out = append(out, items...)
	out = append(out, list...)
	if len(out) > maxBets {
		out = out[:maxBets]
	}
	return out
}
