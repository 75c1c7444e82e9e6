package idl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/uuid"
	json "github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	"github.com/cloudbase/neutron/internal/codec"
	"github.com/cloudbase/neutron/internal/rand"
	"github.com/cloudbase/neutron/pkg/constants"
	"github.com/cloudbase/neutron/pkg/logger"
	"github.com/cloudbase/neutron/pkg/poller"
	"github.com/cloudbase/neutron/pkg/txn"
	"github.com/cloudbase/neutron/pkg/txnqueue"
)

type Config struct {
	// Target is the server address: ws://…, wss://…, tcp:host:port or unix:/path.
	Target string
	// Schema is the database to replicate.
	Schema string
	// Tables restricts replication to these tables; all tables when empty.
	Tables []string
	// Timeout bounds every request round trip.
	Timeout time.Duration
	// InboxStrategy selects the signal behind the notification inbox.
	InboxStrategy txnqueue.Strategy
	Logger        logger.Logger
	Dialer        *gorilla.Dialer
}

type Client struct {
	cfg         Config
	transport   transport
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
	logger      logger.Logger

	schema    Schema
	tables    []string
	monitorID string

	responseChannels     map[string]chan Response
	responseChannelsLock sync.RWMutex

	// pending holds notifications in arrival order; inbox carries at most one
	// token meaning pending may be non-empty.
	pending     []Notification
	pendingLock sync.Mutex
	inbox       *txnqueue.Queue[struct{}]

	closeCh     chan struct{}
	closeOnce   sync.Once
	closeErr    atomic.Pointer[error]
	closeLogged bool

	// mirror state, written only by Run and Dial
	mu    sync.RWMutex
	rows  map[string]map[string]Row    // table -> uuid -> row
	keys  map[string]map[string]string // table -> key -> uuid
	seqno uint64
}

// Dial connects, negotiates the schema and waits for the initial snapshot.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	inbox, err := txnqueue.NewWithStrategy[struct{}](constants.QueueDepth, cfg.InboxStrategy)
	if err != nil {
		return nil, errors.Wrap(err, "create notification inbox")
	}

	t, err := dial(ctx, cfg.Dialer, cfg.Target)
	if err != nil {
		_ = inbox.Close()
		return nil, err
	}

	c := newClient(cfg, t, inbox)
	go c.readLoop()

	if err := c.bootstrap(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.logger.Info("replica synchronised", "target", cfg.Target, "schema", cfg.Schema, "tables", c.tables)
	return c, nil
}

func newClient(cfg Config, t transport, inbox *txnqueue.Queue[struct{}]) *Client {
	c := codec.JSON{}
	return &Client{
		cfg:              cfg,
		transport:        t,
		marshaler:        c,
		unmarshaler:      c,
		logger:           cfg.Logger,
		responseChannels: make(map[string]chan Response),
		pending:          make([]Notification, 0, constants.InboxDepth),
		inbox:            inbox,
		closeCh:          make(chan struct{}),
		rows:             make(map[string]map[string]Row),
		keys:             make(map[string]map[string]string),
	}
}

func (c *Client) bootstrap(ctx context.Context) error {
	var schema Schema
	if err := c.call(ctx, &schema, GetSchema, c.cfg.Schema); err != nil {
		return errors.Wrapf(err, "get schema %q", c.cfg.Schema)
	}
	c.schema = schema

	tables, err := registerTables(schema, c.cfg.Tables)
	if err != nil {
		return err
	}
	c.tables = tables

	c.monitorID = uuid.Must(uuid.NewV4()).String()
	requests := make(map[string]any, len(tables))
	for _, table := range tables {
		requests[table] = map[string]any{}
	}

	var initial TableUpdates
	if err := c.call(ctx, &initial, Monitor, c.cfg.Schema, c.monitorID, requests); err != nil {
		return errors.Wrap(err, "monitor")
	}
	c.apply(initial)

	return nil
}

// registerTables picks the replicated tables: the filter when given, every
// schema table otherwise. Unknown tables are an error.
func registerTables(schema Schema, filter []string) ([]string, error) {
	if len(filter) == 0 {
		tables := make([]string, 0, len(schema.Tables))
		for name := range schema.Tables {
			tables = append(tables, name)
		}
		sort.Strings(tables)
		return tables, nil
	}

	for _, name := range filter {
		if _, ok := schema.Tables[name]; !ok {
			return nil, errors.Wrapf(constants.ErrUnknownTable, "%q in schema %q", name, schema.Name)
		}
	}
	return append([]string(nil), filter...), nil
}

// Wait registers the inbox with p. A lost transport wakes the loop once so
// Run can report it; afterwards nothing is registered.
func (c *Client) Wait(p *poller.Poller) {
	if c.closedErr() != nil {
		if !c.closeLogged {
			p.ImmediateWake()
		}
		return
	}
	p.Wait(c.inbox.Handle(), poller.In)
}

// Run applies every buffered change notification to the mirror. A lost
// transport is reported once.
func (c *Client) Run() error {
	_, ok, err := c.inbox.TryGet()
	if err != nil {
		c.logger.Error("inbox signal out of balance", "error", err)
	}
	if ok {
		if err := c.inbox.TaskDone(); err != nil {
			c.logger.Error(err.Error())
		}
	}

	// the token is taken before the swap so a later arrival re-signals
	c.pendingLock.Lock()
	batch := c.pending
	c.pending = make([]Notification, 0, constants.InboxDepth)
	c.pendingLock.Unlock()

	for _, n := range batch {
		c.handleNotification(n)
	}

	if err := c.closedErr(); err != nil && !c.closeLogged {
		c.closeLogged = true
		return errors.Wrap(err, "replica transport lost")
	}
	return nil
}

func (c *Client) handleNotification(n Notification) {
	if RPCFunction(n.Method) != Update {
		c.logger.Debug("ignoring notification", "method", n.Method)
		return
	}
	if len(n.Params) != 2 {
		c.logger.Error("malformed update notification", "params", len(n.Params))
		return
	}

	var id string
	if err := c.unmarshaler.Unmarshal(n.Params[0], &id); err != nil || id != c.monitorID {
		c.logger.Debug("ignoring update for another monitor", "monitor", id)
		return
	}

	var updates TableUpdates
	if err := c.unmarshaler.Unmarshal(n.Params[1], &updates); err != nil {
		c.logger.Error("error unmarshaling table updates", "error", err)
		return
	}
	c.apply(updates)
}

func (c *Client) apply(updates TableUpdates) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for table, rows := range updates {
		if c.rows[table] == nil {
			c.rows[table] = make(map[string]Row)
			c.keys[table] = make(map[string]string)
		}
		for id, u := range rows {
			if u.Old != nil {
				delete(c.keys[table], u.Old.Key)
			}
			if u.New == nil {
				delete(c.rows[table], id)
				continue
			}
			row := Row{Key: u.New.Key, Value: codec.Normalize(u.New.Value)}
			c.rows[table][id] = row
			c.keys[table][row.Key] = id
		}
	}
	c.seqno++
}

// Commit sends t's operations as one transact call and returns the
// committed OpResult.
func (c *Client) Commit(ctx context.Context, t *txn.Transaction) (any, error) {
	params := make([]any, 0, len(t.Ops)+1)
	params = append(params, c.cfg.Schema)

	for _, op := range t.Ops {
		if op.Table == "" {
			if len(c.tables) == 0 {
				return nil, errors.Wrapf(constants.ErrUnknownTable, "schema %q replicates no tables", c.cfg.Schema)
			}
			op.Table = c.tables[0]
		}
		if !c.replicates(op.Table) {
			return nil, errors.Wrapf(constants.ErrUnknownTable, "%q", op.Table)
		}
		switch op.Op {
		case txn.OpSet, txn.OpDelete:
		default:
			return nil, errors.Wrapf(constants.ErrUnknownOperation, "%q", op.Op)
		}
		params = append(params, op)
	}

	var result OpResult
	if err := c.call(ctx, &result, Transact, params...); err != nil {
		return nil, err
	}
	for k, v := range result {
		result[k] = codec.Normalize(v)
	}
	return result, nil
}

func (c *Client) replicates(table string) bool {
	for _, t := range c.tables {
		if t == table {
			return true
		}
	}
	return false
}

// call sends a request and unmarshals the result into dest.
func (c *Client) call(ctx context.Context, dest any, method RPCFunction, params ...any) error {
	res, err := c.send(ctx, method, params...)
	if err != nil {
		return err
	}
	if res.Error != nil {
		return res.Error
	}
	if dest == nil || len(res.Result) == 0 {
		return nil
	}
	if err := c.unmarshaler.Unmarshal(res.Result, dest); err != nil {
		return errors.Wrapf(err, "%s: error unmarshaling result", method)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method RPCFunction, params ...any) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.closedErr(); err != nil {
		return Response{}, err
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	if params == nil {
		params = []any{}
	}
	request := &Request{ID: id, Method: string(method), Params: params}

	responseChan, err := c.createResponseChannel(id)
	if err != nil {
		return Response{}, err
	}
	defer c.removeResponseChannel(id)

	if err := c.write(request); err != nil {
		return Response{}, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, errors.Wrapf(constants.ErrTimeout, "%s", method)
		}
		return Response{}, ctx.Err()
	case <-c.closeCh:
		return Response{}, c.closedErr()
	case res := <-responseChan:
		return res, nil
	}
}

func (c *Client) write(v any) error {
	data, err := c.marshaler.Marshal(v)
	if err != nil {
		return err
	}
	return c.transport.WriteMessage(data)
}

func (c *Client) createResponseChannel(id string) (chan Response, error) {
	c.responseChannelsLock.Lock()
	defer c.responseChannelsLock.Unlock()

	if _, ok := c.responseChannels[id]; ok {
		return nil, errors.Wrapf(constants.ErrIDInUse, "%v", id)
	}

	ch := make(chan Response, 1)
	c.responseChannels[id] = ch

	return ch, nil
}

func (c *Client) getResponseChannel(id string) (chan Response, bool) {
	c.responseChannelsLock.RLock()
	defer c.responseChannelsLock.RUnlock()
	ch, ok := c.responseChannels[id]
	return ch, ok
}

func (c *Client) removeResponseChannel(id string) {
	c.responseChannelsLock.Lock()
	defer c.responseChannelsLock.Unlock()
	delete(c.responseChannels, id)
}

func (c *Client) readLoop() {
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg message
	if err := c.unmarshaler.Unmarshal(data, &msg); err != nil {
		c.logger.Error("error unmarshaling message", "error", err)
		return
	}

	switch {
	case msg.Method != "" && msg.ID == nil:
		c.enqueue(Notification{Method: msg.Method, Params: msg.Params})

	case RPCFunction(msg.Method) == Echo:
		params := make([]any, len(msg.Params))
		for i, p := range msg.Params {
			params[i] = p
		}
		if err := c.write(&Response{ID: msg.ID, Result: mustMarshal(c.marshaler, params)}); err != nil {
			c.logger.Error("error answering echo", "error", err)
		}

	case msg.Method != "":
		c.logger.Warn("unsupported server request", "method", msg.Method)
		if err := c.write(&Response{ID: msg.ID, Error: &RPCError{Code: -32601, Message: "unknown method"}}); err != nil {
			c.logger.Error("error answering request", "error", err)
		}

	default:
		id := fmt.Sprintf("%v", msg.ID)
		responseChan, ok := c.getResponseChannel(id)
		if !ok {
			c.logger.Error("unavailable response channel", "id", id)
			return
		}
		responseChan <- Response{ID: msg.ID, Result: msg.Result, Error: msg.Error}
	}
}

func mustMarshal(m codec.Marshaler, v any) json.RawMessage {
	data, err := m.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// enqueue parks n for Run. It never blocks, so replies keep flowing while
// the loop is busy committing.
func (c *Client) enqueue(n Notification) {
	c.pendingLock.Lock()
	c.pending = append(c.pending, n)
	c.pendingLock.Unlock()

	// only the reader puts, so a depth-1 Put after an empty Len cannot block
	if c.inbox.Len() > 0 {
		return
	}
	if err := c.inbox.Put(context.Background(), struct{}{}); err != nil {
		c.logger.Warn("cannot signal notification", "method", n.Method, "error", err)
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr.Store(&err)
		close(c.closeCh)
		c.logger.Warn("replica transport closed", "error", err)
	})
}

func (c *Client) closedErr() error {
	if p := c.closeErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close shuts the transport down. The mirror stays readable.
func (c *Client) Close() error {
	c.fail(constants.ErrClientClosed)
	// the reader may still hold the transport
	err := c.transport.Close()
	return errors.CombineErrors(err, c.inbox.Close())
}

// Schema returns the negotiated schema.
func (c *Client) Schema() Schema { return c.schema }

// Tables returns the replicated tables.
func (c *Client) Tables() []string { return append([]string(nil), c.tables...) }

// Seqno increases every time the mirror changes.
func (c *Client) Seqno() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seqno
}

// Get returns the mirrored value of key in table.
func (c *Client) Get(table, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.keys[table][key]
	if !ok {
		return nil, false
	}
	return c.rows[table][id].Value, true
}

// Rows returns a snapshot of table as key -> value.
func (c *Client) Rows(table string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.rows[table]))
	for _, row := range c.rows[table] {
		out[row.Key] = row.Value
	}
	return out
}
