// internal/feed/listener.go
package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-tradecore/internal/rpcpool"
)

// ConnState is the feed connection state machine:
// Disconnected -> Connecting -> Subscribed -> Disconnected -> Reconnecting,
// looping until the context is cancelled.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateSubscribed
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// TargetSelector provides the subscription endpoint; the pool's registry
// implements it so the feed follows endpoint health like every other call.
type TargetSelector interface {
	SelectWebSocket(network rpcpool.Network) (rpcpool.WSTarget, error)
}

// PoolTarget is one pool account to watch.
type PoolTarget struct {
	PoolAddress solana.PublicKey
	Variant     DexVariant
}

// Config tunes one feed instance. Zero values fall back to defaults.
type Config struct {
	Network           rpcpool.Network
	Targets           []PoolTarget
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	CacheSize         int
	RetentionTTL      time.Duration
	UpdateBuffer      int
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = 256
	}
}

// subscription ties a provider subscription id back to what we asked for.
type subscription struct {
	kind    string // "account" or "program"
	account solana.PublicKey
	variant DexVariant
}

// Feed maintains one persistent WebSocket subscription per network,
// decodes pool account updates into snapshots and prices, and publishes
// into the price cache. Decode failures drop the message and keep the
// stream alive; only stream-level failures trigger reconnection.
type Feed struct {
	cfg      Config
	selector TargetSelector
	cache    *PriceCache
	logger   *zap.Logger
	updates  chan Update
	now      func() time.Time

	state atomic.Int32

	// connection-local, touched only by the read loop
	reqID   uint64
	pending map[uint64]subscription
	subByID map[int64]subscription
}

// NewFeed builds a feed; call Run to start it.
func NewFeed(cfg Config, selector TargetSelector, logger *zap.Logger) *Feed {
	cfg.applyDefaults()
	return &Feed{
		cfg:      cfg,
		selector: selector,
		cache:    NewPriceCache(cfg.CacheSize, cfg.RetentionTTL),
		logger:   logger.Named("ws-feed").With(zap.String("network", string(cfg.Network))),
		updates:  make(chan Update, cfg.UpdateBuffer),
		now:      time.Now,
		pending:  make(map[uint64]subscription),
		subByID:  make(map[int64]subscription),
	}
}

// LatestPrice returns a copy of the newest cached point for a token.
func (f *Feed) LatestPrice(tokenID string) (PricePoint, bool) {
	return f.cache.Latest(tokenID)
}

// Updates is the outbound stream of snapshots and prices. Slow consumers
// lose the oldest events; the read loop never blocks on them.
func (f *Feed) Updates() <-chan Update {
	return f.updates
}

// State reports the current connection state.
func (f *Feed) State() ConnState {
	return ConnState(f.state.Load())
}

// Run drives the connection loop until ctx is cancelled. Reconnects with
// exponential backoff; the backoff resets once a connection reaches the
// subscribed state.
func (f *Feed) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.ReconnectDelay
	bo.MaxInterval = f.cfg.MaxReconnectDelay

	for {
		target, err := f.selector.SelectWebSocket(f.cfg.Network)
		if err != nil {
			f.logger.Warn("No subscription endpoint available", zap.Error(err))
		} else {
			err = f.runConnection(ctx, target, bo.Reset)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.setState(StateReconnecting)
		delay := bo.NextBackOff()
		f.logger.Warn("Feed disconnected, reconnecting",
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (f *Feed) runConnection(ctx context.Context, target rpcpool.WSTarget, onSubscribed func()) error {
	f.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target.URL, target.Header)
	if err != nil {
		f.setState(StateDisconnected)
		return fmt.Errorf("websocket dial %s: %w", target.EndpointID, err)
	}
	defer conn.Close()

	f.pending = make(map[uint64]subscription)
	f.subByID = make(map[int64]subscription)

	if err := f.subscribeAll(conn); err != nil {
		f.setState(StateDisconnected)
		return err
	}
	f.setState(StateSubscribed)
	onSubscribed()
	f.logger.Info("Subscribed",
		zap.String("endpoint", target.EndpointID),
		zap.Int("pool_targets", len(f.cfg.Targets)))

	done := make(chan struct{})
	defer close(done)
	go f.pingLoop(conn, done)
	go func() {
		// Unblock ReadMessage when the caller stops us.
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(f.now().Add(f.cfg.ReadTimeout)); err != nil {
			f.setState(StateDisconnected)
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.setState(StateDisconnected)
			return err
		}
		f.handleMessage(message)
	}
}

func (f *Feed) subscribeAll(conn *websocket.Conn) error {
	for _, t := range f.cfg.Targets {
		req := f.newRequest("accountSubscribe", []interface{}{
			t.PoolAddress.String(),
			map[string]string{"encoding": "base64", "commitment": "confirmed"},
		})
		f.pending[req.ID] = subscription{kind: "account", account: t.PoolAddress, variant: t.Variant}
		if err := f.writeJSON(conn, req); err != nil {
			return fmt.Errorf("account subscribe: %w", err)
		}
	}
	for program, variant := range variantByProgram {
		req := f.newRequest("programSubscribe", []interface{}{
			program.String(),
			map[string]string{"encoding": "base64", "commitment": "confirmed"},
		})
		f.pending[req.ID] = subscription{kind: "program", variant: variant}
		if err := f.writeJSON(conn, req); err != nil {
			return fmt.Errorf("program subscribe: %w", err)
		}
	}
	return nil
}

func (f *Feed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := f.now().Add(f.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  *wsNotification `json:"params,omitempty"`
}

type wsNotification struct {
	Subscription int64 `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
}

type wsAccountValue struct {
	Data  []string `json:"data"` // [base64 payload, encoding]
	Owner string   `json:"owner"`
}

type wsProgramValue struct {
	Pubkey  string         `json:"pubkey"`
	Account wsAccountValue `json:"account"`
}

func (f *Feed) newRequest(method string, params []interface{}) wsRequest {
	f.reqID++
	return wsRequest{JSONRPC: "2.0", ID: f.reqID, Method: method, Params: params}
}

func (f *Feed) writeJSON(conn *websocket.Conn, req wsRequest) error {
	if err := conn.SetWriteDeadline(f.now().Add(f.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(req)
}

// handleMessage parses one inbound envelope. A message that cannot be
// parsed or decoded is dropped with a logged reason and is never
// retried; reconnection handles stream failures, not message failures.
func (f *Feed) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		f.logger.Debug("Dropping unparseable message", zap.Error(err))
		return
	}

	// Subscription confirmation: {"id": N, "result": subID}.
	if env.Method == "" {
		sub, ok := f.pending[env.ID]
		if !ok || env.Result == nil {
			return
		}
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err != nil {
			f.logger.Debug("Dropping malformed subscription confirmation", zap.Error(err))
			return
		}
		delete(f.pending, env.ID)
		f.subByID[subID] = sub
		return
	}

	if env.Params == nil {
		return
	}
	sub, ok := f.subByID[env.Params.Subscription]
	if !ok {
		f.logger.Debug("Dropping notification for unknown subscription",
			zap.Int64("subscription", env.Params.Subscription))
		return
	}
	slot := env.Params.Result.Context.Slot

	switch env.Method {
	case "accountNotification":
		var value wsAccountValue
		if err := json.Unmarshal(env.Params.Result.Value, &value); err != nil {
			f.logger.Debug("Dropping malformed account notification", zap.Error(err))
			return
		}
		f.publishAccount(sub.account, sub.variant, value, slot)

	case "programNotification":
		var value wsProgramValue
		if err := json.Unmarshal(env.Params.Result.Value, &value); err != nil {
			f.logger.Debug("Dropping malformed program notification", zap.Error(err))
			return
		}
		account, err := solana.PublicKeyFromBase58(value.Pubkey)
		if err != nil {
			f.logger.Debug("Dropping program notification with bad pubkey",
				zap.String("pubkey", value.Pubkey))
			return
		}
		f.publishAccount(account, sub.variant, value.Account, slot)

	default:
		f.logger.Debug("Dropping unrecognized notification", zap.String("method", env.Method))
	}
}

func (f *Feed) publishAccount(account solana.PublicKey, variant DexVariant, value wsAccountValue, slot uint64) {
	if len(value.Data) == 0 {
		f.logger.Debug("Dropping account update without payload",
			zap.String("account", account.String()))
		return
	}
	raw, err := base64.StdEncoding.DecodeString(value.Data[0])
	if err != nil {
		f.logger.Debug("Dropping undecodable base64 payload",
			zap.String("account", account.String()),
			zap.Error(err))
		return
	}

	snapshot, err := DecodePoolAccount(variant, account, raw, slot)
	if err != nil {
		f.logger.Debug("Dropping pool update",
			zap.String("account", account.String()),
			zap.String("variant", variant.String()),
			zap.Error(err))
		return
	}

	point := PricePoint{
		TokenID:    snapshot.BaseMint.String(),
		Value:      snapshot.Price(),
		Source:     SourceWebSocketDerived,
		ObservedAt: f.now(),
		Confidence: ConfidenceHigh,
	}
	f.cache.Put(point)
	f.emit(Update{Snapshot: snapshot})
	f.emit(Update{Price: &point})
}

// emit publishes without ever blocking the read loop: when the consumer
// lags, the oldest event is dropped.
func (f *Feed) emit(u Update) {
	select {
	case f.updates <- u:
		return
	default:
	}
	select {
	case <-f.updates:
	default:
	}
	select {
	case f.updates <- u:
	default:
	}
}

func (f *Feed) setState(s ConnState) {
	prev := ConnState(f.state.Swap(int32(s)))
	if prev != s {
		f.logger.Debug("Feed state transition",
			zap.String("from", prev.String()),
			zap.String("to", s.String()))
	}
}
