package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// Commitment is the commitment level for all subscriptions.
	Commitment string
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		Commitment:        CommitmentConfirmed,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// notification channel buffer; sends beyond this block the read loop,
// which is the upstream half of the tracker's backpressure chain.
const wsSubBuffer = 1000

// subSpec stores a subscription request for replay after reconnect.
type subSpec struct {
	method string
	params []interface{}
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// txSubs and blockSubs map subscription ID to delivery channel
	txSubs    map[int64]chan TxNotification
	blockSubs map[int64]chan BlockMetaNotification
	subsMu    sync.RWMutex

	// subSpecs stores requests for resubscription after reconnect
	subSpecs   map[int64]subSpec
	subSpecsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentConfirmed
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		txSubs:      make(map[int64]chan TxNotification),
		blockSubs:   make(map[int64]chan BlockMetaNotification),
		subSpecs:    make(map[int64]subSpec),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Compile-time interface check.
var _ WSClient = (*WSClientImpl)(nil)

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeTransactions subscribes to transaction notifications matching the filter.
func (c *WSClientImpl) SubscribeTransactions(ctx context.Context, filter TxFilter) (<-chan TxNotification, error) {
	spec := subSpec{
		method: "transactionSubscribe",
		params: []interface{}{
			map[string]interface{}{
				"vote":           false,
				"failed":         filter.Failed,
				"accountInclude": filter.AccountInclude,
			},
			map[string]interface{}{
				"commitment":                     c.config.Commitment,
				"encoding":                       "jsonParsed",
				"transactionDetails":             "full",
				"showRewards":                    false,
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	subID, err := c.subscribe(ctx, spec)
	if err != nil {
		return nil, err
	}

	ch := make(chan TxNotification, wsSubBuffer)
	c.subsMu.Lock()
	c.txSubs[subID] = ch
	c.subsMu.Unlock()

	c.subSpecsMu.Lock()
	c.subSpecs[subID] = spec
	c.subSpecsMu.Unlock()

	return ch, nil
}

// SubscribeBlockMeta subscribes to per-slot block metadata notifications.
// Transaction details are excluded; only slot and blockTime are of interest.
func (c *WSClientImpl) SubscribeBlockMeta(ctx context.Context) (<-chan BlockMetaNotification, error) {
	spec := subSpec{
		method: "blockSubscribe",
		params: []interface{}{
			"all",
			map[string]interface{}{
				"commitment":                     c.config.Commitment,
				"encoding":                       "json",
				"transactionDetails":             "none",
				"showRewards":                    false,
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	subID, err := c.subscribe(ctx, spec)
	if err != nil {
		return nil, err
	}

	ch := make(chan BlockMetaNotification, wsSubBuffer)
	c.subsMu.Lock()
	c.blockSubs[subID] = ch
	c.subsMu.Unlock()

	c.subSpecsMu.Lock()
	c.subSpecs[subID] = spec
	c.subSpecsMu.Unlock()

	return ch, nil
}

// subscribe sends a subscription request and waits for the subscription ID.
func (c *WSClientImpl) subscribe(ctx context.Context, spec subSpec) (int64, error) {
	if c.closed.Load() {
		return 0, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  spec.method,
		Params:  spec.params,
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	unregister := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		unregister()
		return 0, fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		unregister()
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	// Wait for subscription confirmation (30s timeout for slow providers)
	select {
	case subID := <-confirmCh:
		return subID, nil
	case <-time.After(30 * time.Second):
		unregister()
		return 0, fmt.Errorf("subscription timeout after 30s")
	case <-c.done:
		return 0, fmt.Errorf("client closed")
	case <-ctx.Done():
		unregister()
		return 0, ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for id, ch := range c.txSubs {
		close(ch)
		delete(c.txSubs, id)
	}
	for id, ch := range c.blockSubs {
		close(ch)
		delete(c.blockSubs, id)
	}
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	c.resubscribeAll()
}

// resubscribeAll replays all stored subscription requests after reconnect
// and rebinds delivery channels to the new subscription IDs.
func (c *WSClientImpl) resubscribeAll() {
	c.subSpecsMu.RLock()
	specs := make(map[int64]subSpec, len(c.subSpecs))
	for id, s := range c.subSpecs {
		specs[id] = s
	}
	c.subSpecsMu.RUnlock()

	for oldSubID, spec := range specs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newSubID, err := c.subscribe(ctx, spec)
		cancel()

		if err != nil {
			// Failed to resubscribe, keep old mapping
			log.Printf("[ws] resubscribe %s failed: %v", spec.method, err)
			continue
		}

		c.subsMu.Lock()
		if ch, ok := c.txSubs[oldSubID]; ok {
			delete(c.txSubs, oldSubID)
			c.txSubs[newSubID] = ch
		}
		if ch, ok := c.blockSubs[oldSubID]; ok {
			delete(c.blockSubs, oldSubID)
			c.blockSubs[newSubID] = ch
		}
		c.subsMu.Unlock()

		c.subSpecsMu.Lock()
		delete(c.subSpecs, oldSubID)
		c.subSpecs[newSubID] = spec
		c.subSpecsMu.Unlock()
	}
}

// handleMessage processes an incoming WebSocket message. Updates form a closed
// set: subscription confirmations, transaction notifications, block
// notifications, errors. Anything else is ignored.
func (c *WSClientImpl) handleMessage(message []byte) {
	// Try to parse as subscription response first
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.handleSubscribeResponse(&resp)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err != nil {
		return
	}

	switch notif.Method {
	case "transactionNotification":
		c.handleTxNotification(&notif)
	case "blockNotification":
		c.handleBlockNotification(&notif)
	case "":
		// Check for error response
		var errResp struct {
			ID    uint64 `json:"id"`
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
			// Log but don't crash - pending subscription will time out
			log.Printf("[ws] error response: code=%d msg=%s", errResp.Error.Code, errResp.Error.Message)
		}
	}
}

// handleSubscribeResponse handles subscription confirmation.
func (c *WSClientImpl) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

// handleTxNotification decodes and dispatches a transaction notification.
func (c *WSClientImpl) handleTxNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	var result wsTxResult
	if err := json.Unmarshal(notif.Params.Result, &result); err != nil {
		log.Printf("[ws] decode transaction notification: %v", err)
		return
	}

	keys := make([]string, 0, len(result.Transaction.Transaction.Message.AccountKeys))
	for _, k := range result.Transaction.Transaction.Message.AccountKeys {
		keys = append(keys, k.Pubkey)
	}

	txNotif := TxNotification{
		Signature:   result.Signature,
		Slot:        result.Slot,
		AccountKeys: keys,
	}
	if meta := result.Transaction.Meta; meta != nil {
		txNotif.Err = meta.Err
		txNotif.Fee = meta.Fee
		txNotif.PreTokenBalances = meta.PreTokenBalances
		txNotif.PostTokenBalances = meta.PostTokenBalances
	}

	c.subsMu.RLock()
	ch, ok := c.txSubs[notif.Params.Subscription]
	c.subsMu.RUnlock()

	if ok {
		// Block until we can send - never drop events
		select {
		case ch <- txNotif:
		case <-c.done:
		}
	}
}

// handleBlockNotification decodes and dispatches a block metadata notification.
func (c *WSClientImpl) handleBlockNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	var result wsBlockResult
	if err := json.Unmarshal(notif.Params.Result, &result); err != nil {
		log.Printf("[ws] decode block notification: %v", err)
		return
	}

	metaNotif := BlockMetaNotification{
		Slot: result.Value.Slot,
	}
	if result.Value.Block != nil {
		metaNotif.BlockTime = result.Value.Block.BlockTime
	}

	c.subsMu.RLock()
	ch, ok := c.blockSubs[notif.Params.Subscription]
	c.subsMu.RUnlock()

	if ok {
		select {
		case ch <- metaNotif:
		case <-c.done:
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64           `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type wsTxResult struct {
	Signature   string      `json:"signature"`
	Slot        uint64      `json:"slot"`
	Transaction wsTxPayload `json:"transaction"`
}

type wsTxPayload struct {
	Transaction wsTxInner `json:"transaction"`
	Meta        *wsTxMeta `json:"meta"`
}

type wsTxInner struct {
	Message wsTxMessage `json:"message"`
}

type wsTxMessage struct {
	AccountKeys []wsAccountKey `json:"accountKeys"`
}

type wsAccountKey struct {
	Pubkey string `json:"pubkey"`
}

type wsTxMeta struct {
	Err               interface{}    `json:"err"`
	Fee               uint64         `json:"fee"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

type wsBlockResult struct {
	Context *wsContext   `json:"context"`
	Value   wsBlockValue `json:"value"`
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}

type wsBlockValue struct {
	Slot  uint64       `json:"slot"`
	Block *wsBlockInfo `json:"block"`
	Err   interface{}  `json:"err"`
}

type wsBlockInfo struct {
	Blockhash  string `json:"blockhash"`
	ParentSlot uint64 `json:"parentSlot"`
	BlockTime  *int64 `json:"blockTime"`
}
