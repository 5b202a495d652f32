package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/event"
)

const (
	readLimit      = 8 * 1024 * 1024
	pingInterval   = 15 * time.Second
	writeTimeout   = 10 * time.Second
	requestTimeout = 30 * time.Second

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second

	// lsfSell marks an offer as a sell on account_offers entries.
	lsfSell = 0x00020000
)

// WSClient is the gorilla/websocket implementation of Client. A lost
// connection is recovered by redialing with backoff; in-flight requests
// fail with ErrOffline and are never replayed, since consumers refetch
// from scratch on reconnect.
type WSClient struct {
	url    string
	log    *zap.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	nextID    uint64
	pending   map[uint64]chan response
	subs      map[string]int

	writeMu sync.Mutex

	ledgerClosed event.Stream[LedgerClosed]
	transactions event.Stream[Transaction]
	connectedEvs event.Stream[struct{}]
}

type response struct {
	result json.RawMessage
	err    error
}

// NewWSClient builds a client for the given wss:// endpoint. Connect
// must be called before use.
func NewWSClient(url string, log *zap.Logger) *WSClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSClient{
		url: url,
		log: log.Named("remote"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: writeTimeout,
		},
		pending: make(map[uint64]chan response),
		subs:    make(map[string]int),
	}
}

// Connect dials the endpoint and starts the read and keepalive loops.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.attach(conn)
	return nil
}

// attach installs a fresh connection and starts its loops.
func (c *WSClient) attach(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)

	c.log.Info("connected", zap.String("url", c.url))

	// The server forgets stream subscriptions with the connection;
	// restore every stream still referenced before consumers are told
	// to refetch.
	c.mu.Lock()
	streams := make([]string, 0, len(c.subs))
	for s := range c.subs {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	if len(streams) > 0 {
		if err := c.sendStreams("subscribe", streams); err != nil {
			c.log.Warn("resubscribe failed", zap.Error(err))
		}
	}

	c.connectedEvs.Emit(struct{}{})
}

// Disconnect closes the connection and stops reconnecting.
func (c *WSClient) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.failPending(ErrOffline)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected reports whether a live connection exists.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OnLedgerClosed registers a ledger-close handler.
func (c *WSClient) OnLedgerClosed(fn func(LedgerClosed)) func() {
	return c.ledgerClosed.Subscribe(fn)
}

// OnTransaction registers a transaction-stream handler.
func (c *WSClient) OnTransaction(fn func(Transaction)) func() {
	return c.transactions.Subscribe(fn)
}

// OnConnected registers a handler fired on every successful (re)dial.
func (c *WSClient) OnConnected(fn func()) func() {
	return c.connectedEvs.Subscribe(func(struct{}) { fn() })
}

func (c *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// handleDisconnect tears down a dead connection and redials with
// backoff until it succeeds or the client is closed.
func (c *WSClient) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closed := c.closed
	c.mu.Unlock()

	conn.Close()
	c.failPending(ErrOffline)
	if closed {
		return
	}
	c.log.Warn("connection lost, reconnecting", zap.Error(cause))

	backoff := reconnectMin
	for {
		time.Sleep(backoff)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		next, _, err := c.dialer.Dial(c.url, nil)
		if err == nil {
			c.attach(next)
			return
		}
		c.log.Warn("redial failed", zap.Error(err), zap.Duration("backoff", backoff))
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *WSClient) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan response)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- response{err: err}
	}
}

type envelope struct {
	ID           uint64          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

func (c *WSClient) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug("unparseable message", zap.Error(err))
		return
	}

	switch env.Type {
	case "response":
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if !ok {
			return
		}
		if env.Status != "success" {
			msg := env.ErrorMessage
			if msg == "" {
				msg = env.Error
			}
			ch <- response{err: fmt.Errorf("request failed: %s", msg)}
			return
		}
		ch <- response{result: env.Result}

	case "ledgerClosed":
		var msg struct {
			LedgerIndex uint32 `json:"ledger_index"`
			LedgerTime  uint32 `json:"ledger_time"`
			TxnCount    int    `json:"txn_count"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.ledgerClosed.Emit(LedgerClosed{
			LedgerVersion:    msg.LedgerIndex,
			TransactionCount: msg.TxnCount,
			CloseTime:        msg.LedgerTime,
		})

	case "transaction":
		var msg struct {
			Transaction json.RawMessage `json:"transaction"`
			Meta        json.RawMessage `json:"meta"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		var tx struct {
			TransactionType string `json:"TransactionType"`
			Hash            string `json:"hash"`
			OwnerFunds      string `json:"owner_funds"`
		}
		if err := json.Unmarshal(msg.Transaction, &tx); err != nil {
			return
		}
		c.transactions.Emit(Transaction{
			TransactionType: tx.TransactionType,
			Hash:            tx.Hash,
			OwnerFunds:      tx.OwnerFunds,
			Meta:            msg.Meta,
			Transaction:     msg.Transaction,
		})
	}
}

// request sends one command and waits for its correlated response.
func (c *WSClient) request(ctx context.Context, command string, fields map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrOffline
	}
	id := c.nextID
	c.nextID++
	ch := make(chan response, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	msg := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["id"] = id
	msg["command"] = command

	data, err := json.Marshal(msg)
	if err != nil {
		c.abandon(id)
		return nil, err
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(id)
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-ctx.Done():
		c.abandon(id)
		return nil, ctx.Err()
	}
}

func (c *WSClient) abandon(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Subscribe adds a reference to each stream. Streams gaining their
// first reference are subscribed upstream; the rest are counted only,
// so several books can share one connection.
func (c *WSClient) Subscribe(streams ...string) error {
	c.mu.Lock()
	var fresh []string
	for _, s := range streams {
		c.subs[s]++
		if c.subs[s] == 1 {
			fresh = append(fresh, s)
		}
	}
	c.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}
	if err := c.sendStreams("subscribe", fresh); err != nil {
		// Failed references must not linger or a later Unsubscribe
		// from another consumer would be swallowed.
		c.mu.Lock()
		for _, s := range streams {
			if c.subs[s] > 0 {
				if c.subs[s]--; c.subs[s] == 0 {
					delete(c.subs, s)
				}
			}
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops a reference to each stream and unsubscribes
// upstream from streams nobody references anymore.
func (c *WSClient) Unsubscribe(streams ...string) error {
	c.mu.Lock()
	var gone []string
	for _, s := range streams {
		if c.subs[s] == 0 {
			continue
		}
		c.subs[s]--
		if c.subs[s] == 0 {
			delete(c.subs, s)
			gone = append(gone, s)
		}
	}
	c.mu.Unlock()
	if len(gone) == 0 {
		return nil
	}
	return c.sendStreams("unsubscribe", gone)
}

func (c *WSClient) sendStreams(command string, streams []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_, err := c.request(ctx, command, map[string]any{"streams": streams})
	return err
}

func currencyField(spec CurrencySpec) map[string]string {
	field := map[string]string{"currency": spec.Currency}
	if spec.Issuer != "" {
		field["issuer"] = spec.Issuer
	}
	return field
}

// BookOffers fetches a snapshot of one book.
func (c *WSClient) BookOffers(ctx context.Context, req BookOffersRequest) (*BookOffersResult, error) {
	taker := req.Taker
	if taker == "" {
		taker = AccountOne
	}
	ledgerIndex := req.LedgerIndex
	if ledgerIndex == nil {
		ledgerIndex = "validated"
	}

	result, err := c.request(ctx, "book_offers", map[string]any{
		"taker_gets":   currencyField(req.TakerGets),
		"taker_pays":   currencyField(req.TakerPays),
		"taker":        taker,
		"ledger_index": ledgerIndex,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		LedgerIndex uint32          `json:"ledger_index"`
		Offers      json.RawMessage `json:"offers"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	trimmed := bytes.TrimSpace(parsed.Offers)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: offers is not an array", ErrInvalidResponse)
	}
	var offers []json.RawMessage
	if err := json.Unmarshal(trimmed, &offers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &BookOffersResult{LedgerIndex: parsed.LedgerIndex, Offers: offers}, nil
}

// AccountSettings fetches the issuer settings relevant to funding
// math. A missing TransferRate means the default (no fee).
func (c *WSClient) AccountSettings(ctx context.Context, account string) (*AccountSettings, error) {
	result, err := c.request(ctx, "account_info", map[string]any{
		"account":      account,
		"ledger_index": "validated",
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		AccountData struct {
			TransferRate uint32 `json:"TransferRate"`
		} `json:"account_data"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	settings := &AccountSettings{TransferRate: "1.000000000"}
	if rate := parsed.AccountData.TransferRate; rate != 0 {
		// The ledger stores the rate in parts per billion.
		settings.TransferRate = amount.NewValue(int64(rate), -9).String()
	}
	return settings, nil
}

// AccountBalances fetches the native balance plus all trust-line
// balances of an account.
func (c *WSClient) AccountBalances(ctx context.Context, account string) ([]Balance, error) {
	var balances []Balance

	info, err := c.request(ctx, "account_info", map[string]any{
		"account":      account,
		"ledger_index": "validated",
	})
	if err != nil {
		return nil, err
	}
	var root struct {
		AccountData struct {
			Balance string `json:"Balance"`
		} `json:"account_data"`
	}
	if err := json.Unmarshal(info, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if drops, err := strconv.ParseInt(root.AccountData.Balance, 10, 64); err == nil {
		balances = append(balances, Balance{
			Currency: amount.Native,
			Value:    amount.NewValue(drops, -6).String(),
		})
	}

	lines, err := c.request(ctx, "account_lines", map[string]any{
		"account":      account,
		"ledger_index": "validated",
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Lines []struct {
			Account  string `json:"account"`
			Balance  string `json:"balance"`
			Currency string `json:"currency"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(lines, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	for _, line := range parsed.Lines {
		balances = append(balances, Balance{
			Currency: line.Currency,
			Issuer:   line.Account,
			Value:    line.Balance,
		})
	}
	return balances, nil
}

// AccountOrders fetches the open offers of an account.
func (c *WSClient) AccountOrders(ctx context.Context, account string) ([]AccountOrder, error) {
	result, err := c.request(ctx, "account_offers", map[string]any{
		"account":      account,
		"ledger_index": "validated",
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Offers []struct {
			Flags     uint32          `json:"flags"`
			Seq       uint32          `json:"seq"`
			TakerGets json.RawMessage `json:"taker_gets"`
			TakerPays json.RawMessage `json:"taker_pays"`
		} `json:"offers"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	orders := make([]AccountOrder, 0, len(parsed.Offers))
	for _, o := range parsed.Offers {
		direction := "buy"
		if o.Flags&lsfSell != 0 {
			direction = "sell"
		}
		orders = append(orders, AccountOrder{
			Direction:  direction,
			Sequence:   o.Seq,
			Quantity:   o.TakerGets,
			TotalPrice: o.TakerPays,
		})
	}
	return orders, nil
}
