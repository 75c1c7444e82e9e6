// Package fakeovsdb provides a fake replicated-table server for tests.
// It speaks the replica JSON-RPC protocol (get_schema, monitor, transact,
// echo) over WebSocket and over newline-delimited JSON streams, keeps its
// tables in memory and pushes update notifications to every monitor.
//
// The WebSocket server is implemented using the `gws` library.
//
// To flexibly inject failures, you can configure stub responses that match
// specific RPC methods and parameters, along with failure configurations
// that specify how it fails (delays, invalid responses, dropped connections).
package fakeovsdb

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/lxzan/gws"

	"github.com/cloudbase/neutron/internal/codec"
	"github.com/cloudbase/neutron/pkg/idl"
	"github.com/cloudbase/neutron/pkg/logger"
	"github.com/cloudbase/neutron/pkg/txn"
)

func cryptoRandInt64(rMax int64) int64 {
	if rMax <= 0 {
		return 0
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(rMax))
	return n.Int64()
}

func cryptoRandFloat64() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<53))
	return float64(n.Int64()) / float64(1<<53)
}

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureRequestDelay delays before processing the request
	FailureRequestDelay FailureType = "request_delay"
	// FailureInvalidResponse sends garbage instead of a valid response
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
	// FailureNoResponse swallows the request
	FailureNoResponse FailureType = "no_response"
)

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	Type FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// RequestMatcher defines criteria for matching incoming RPC requests.
type RequestMatcher struct {
	Method string
	// Matcher optionally inspects the raw params. If nil, only the method
	// name is used for matching.
	Matcher func(params []json.RawMessage) bool
}

// StubResponse replaces the default handling of matching requests.
type StubResponse struct {
	Matcher RequestMatcher
	// Result is returned on success (mutually exclusive with Error)
	Result   any
	Error    *idl.RPCError
	Failures []FailureConfig
}

// peer is one client connection, whatever the framing.
type peer interface {
	Write(data []byte) error
	Close() error
}

type wsPeer struct {
	socket *gws.Conn
}

func (p *wsPeer) Write(data []byte) error {
	return p.socket.WriteMessage(gws.OpcodeText, data)
}

func (p *wsPeer) Close() error {
	return p.socket.NetConn().Close()
}

type streamPeer struct {
	conn net.Conn
	mu   sync.Mutex
}

func (p *streamPeer) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	frame := make([]byte, len(data)+1)
	copy(frame, data)
	frame[len(data)] = '\n'
	_, err := p.conn.Write(frame)
	return err
}

func (p *streamPeer) Close() error {
	return p.conn.Close()
}

// request is an incoming frame. Frames without a method are replies to
// server-initiated echo requests.
type request struct {
	ID     any               `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Result json.RawMessage   `json:"result,omitempty"`
}

// Server is a fake replica server holding one database.
type Server struct {
	addr           string
	listener       net.Listener
	streamListener net.Listener
	upgrader       *gws.Upgrader
	httpServer     *http.Server
	logger         logger.Logger

	// closed when the accept loops return
	wsDone     chan struct{}
	streamDone chan struct{}

	mu            sync.RWMutex
	schema        idl.Schema
	rows          map[string]map[string]idl.Row // table -> uuid -> row
	keys          map[string]map[string]string  // table -> key -> uuid
	stubResponses []StubResponse
	wsPeers       map[*gws.Conn]*wsPeer
	monitors      map[peer]map[string][]string // peer -> monitor id -> tables

	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler

	echoReplies  atomic.Int64
	transactions atomic.Int64

	stopOnce sync.Once
	stopErr  error
}

type handler struct {
	server *Server
}

// NewServer creates a fake server for schema. Use "127.0.0.1:0" to bind to
// a random available port.
func NewServer(addr string, schema idl.Schema) *Server {
	c := codec.JSON{}
	s := &Server{
		addr:        addr,
		logger:      logger.Nop(),
		schema:      schema,
		rows:        make(map[string]map[string]idl.Row),
		keys:        make(map[string]map[string]string),
		wsPeers:     make(map[*gws.Conn]*wsPeer),
		monitors:    make(map[peer]map[string][]string),
		marshaler:   c,
		unmarshaler: c,
	}
	for table := range schema.Tables {
		s.rows[table] = make(map[string]idl.Row)
		s.keys[table] = make(map[string]string)
	}

	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{})
	return s
}

// DefaultSchema is a small database with a single key/value table.
func DefaultSchema() idl.Schema {
	return idl.Schema{
		Name:    "Test",
		Version: "1.0.0",
		Tables: map[string]idl.TableSchema{
			"kv": {Columns: map[string]idl.ColumnSchema{
				"key":   {Type: "string"},
				"value": {Type: "any"},
			}},
		},
	}
}

func (s *Server) SetLogger(l logger.Logger) {
	s.logger = l
}

// AddStubResponse adds a stub response configuration to the server.
// Stub responses are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, stub)
}

// Start starts accepting WebSocket connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           http.HandlerFunc(s.serveWebSocket),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.wsDone = make(chan struct{})

	go func() {
		defer close(s.wsDone)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()
	return nil
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Error("error upgrading connection", "error", err)
		return
	}
	go socket.ReadLoop()
}

// StartStream starts accepting raw TCP connections carrying one JSON value
// per message.
func (s *Server) StartStream() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.streamListener = listener
	s.streamDone = make(chan struct{})

	go func() {
		defer close(s.streamDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Error("accept error", "error", err)
				}
				return
			}
			go s.serveStream(&streamPeer{conn: conn})
		}
	}()
	return nil
}

func (s *Server) serveStream(p *streamPeer) {
	defer s.dropPeer(p)

	dec := s.unmarshaler.NewDecoder(p.conn)
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return
		}
		s.handle(p, raw)
	}
}

// Stop closes the listeners and every open connection. Later calls return
// the first result.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { s.stopErr = s.stop() })
	return s.stopErr
}

func (s *Server) stop() error {
	s.mu.Lock()
	peers := make([]peer, 0, len(s.monitors)+len(s.wsPeers))
	for p := range s.monitors {
		peers = append(peers, p)
	}
	for _, p := range s.wsPeers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	var err error
	if s.httpServer != nil {
		err = errors.CombineErrors(err, s.httpServer.Close())
	}
	if s.streamListener != nil {
		err = errors.CombineErrors(err, s.streamListener.Close())
	}
	for _, p := range peers {
		_ = p.Close()
	}
	return err
}

// Address returns the WebSocket listener address.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL is the WebSocket target for idl.Config.
func (s *Server) URL() string {
	return "ws://" + s.Address()
}

// StreamTarget is the raw TCP target for idl.Config.
func (s *Server) StreamTarget() string {
	if s.streamListener != nil {
		return "tcp:" + s.streamListener.Addr().String()
	}
	return "tcp:" + s.addr
}

// Rows returns a snapshot of table as key -> value.
func (s *Server) Rows(table string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.rows[table]))
	for _, row := range s.rows[table] {
		out[row.Key] = row.Value
	}
	return out
}

// Transactions counts the transact calls committed by the default handler.
func (s *Server) Transactions() int64 {
	return s.transactions.Load()
}

// EchoReplies counts replies to SendEcho.
func (s *Server) EchoReplies() int64 {
	return s.echoReplies.Load()
}

// Seed writes rows directly, notifying monitors as a transaction would.
func (s *Server) Seed(table string, values map[string]any) error {
	ops := make([]txn.Operation, 0, len(values))
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		ops = append(ops, txn.Operation{Op: txn.OpSet, Table: table, Key: key, Value: values[key]})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.commitLocked(ops)
	return err
}

// SendEcho sends an echo request to every monitoring client.
func (s *Server) SendEcho() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.marshaler.Marshal(&idl.Request{
		ID:     "echo-" + uuid.Must(uuid.NewV4()).String(),
		Method: string(idl.Echo),
		Params: []any{},
	})
	if err != nil {
		return err
	}
	for p := range s.monitors {
		if werr := p.Write(data); werr != nil {
			err = errors.CombineErrors(err, werr)
		}
	}
	return err
}

func (h *handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.wsPeers[socket] = &wsPeer{socket: socket}
	h.server.mu.Unlock()
}

func (h *handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	p := h.server.wsPeers[socket]
	delete(h.server.wsPeers, socket)
	delete(h.server.monitors, p)
	h.server.mu.Unlock()
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.logger.Error("error writing pong", "error", err)
	}
}

func (h *handler) OnPong(*gws.Conn, []byte) {}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	h.server.mu.RLock()
	p := h.server.wsPeers[socket]
	h.server.mu.RUnlock()
	if p == nil {
		return
	}
	h.server.handle(p, message.Bytes())
}

func (s *Server) dropPeer(p peer) {
	s.mu.Lock()
	delete(s.monitors, p)
	s.mu.Unlock()
	_ = p.Close()
}

func (s *Server) handle(p peer, data []byte) {
	var req request
	if err := s.unmarshaler.Unmarshal(data, &req); err != nil {
		s.sendError(p, nil, -32700, "Parse error")
		return
	}

	if req.Method == "" {
		s.echoReplies.Add(1)
		return
	}

	if stub := s.matchStub(&req); stub != nil {
		s.serveStub(p, &req, stub)
		return
	}

	switch idl.RPCFunction(req.Method) {
	case idl.GetSchema:
		s.handleGetSchema(p, &req)
	case idl.Monitor:
		s.handleMonitor(p, &req)
	case idl.Transact:
		s.handleTransact(p, &req)
	case idl.Echo:
		s.sendResponse(p, req.ID, req.Params)
	default:
		s.sendError(p, req.ID, -32601, "unknown method")
	}
}

func (s *Server) matchStub(req *request) *StubResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.stubResponses {
		stub := s.stubResponses[i]
		if stub.Matcher.Method != req.Method {
			continue
		}
		if stub.Matcher.Matcher == nil || stub.Matcher.Matcher(req.Params) {
			return &stub
		}
	}
	return nil
}

func (s *Server) serveStub(p peer, req *request, stub *StubResponse) {
	for _, failure := range stub.Failures {
		if !shouldTriggerFailure(failure.Probability) {
			continue
		}
		switch failure.Type {
		case FailureRequestDelay:
			time.Sleep(randomDuration(failure.MinDelay, failure.MaxDelay))
		case FailureInvalidResponse:
			if err := p.Write([]byte(`{"id":`)); err != nil {
				s.logger.Error("error writing invalid response", "error", err)
			}
			return
		case FailureDropConnection:
			s.dropPeer(p)
			return
		case FailureNoResponse:
			return
		}
	}

	if stub.Error != nil {
		s.sendError(p, req.ID, stub.Error.Code, stub.Error.Message)
		return
	}
	s.sendResponse(p, req.ID, stub.Result)
}

func (s *Server) handleGetSchema(p peer, req *request) {
	var name string
	if len(req.Params) != 1 || s.unmarshaler.Unmarshal(req.Params[0], &name) != nil {
		s.sendError(p, req.ID, -32602, "get_schema expects a database name")
		return
	}
	if name != s.schema.Name {
		s.sendError(p, req.ID, -32000, fmt.Sprintf("unknown database %q", name))
		return
	}
	s.sendResponse(p, req.ID, s.schema)
}

func (s *Server) handleMonitor(p peer, req *request) {
	var (
		name     string
		id       string
		requests map[string]any
	)
	if len(req.Params) != 3 ||
		s.unmarshaler.Unmarshal(req.Params[0], &name) != nil ||
		s.unmarshaler.Unmarshal(req.Params[1], &id) != nil ||
		s.unmarshaler.Unmarshal(req.Params[2], &requests) != nil {
		s.sendError(p, req.ID, -32602, "monitor expects database, id and requests")
		return
	}
	if name != s.schema.Name {
		s.sendError(p, req.ID, -32000, fmt.Sprintf("unknown database %q", name))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tables := make([]string, 0, len(requests))
	initial := idl.TableUpdates{}
	for table := range requests {
		if _, ok := s.schema.Tables[table]; !ok {
			s.sendError(p, req.ID, -32000, fmt.Sprintf("unknown table %q", table))
			return
		}
		tables = append(tables, table)
		initial[table] = make(map[string]idl.RowUpdate, len(s.rows[table]))
		for uid, row := range s.rows[table] {
			row := row
			initial[table][uid] = idl.RowUpdate{New: &row}
		}
	}

	if s.monitors[p] == nil {
		s.monitors[p] = make(map[string][]string)
	}
	s.monitors[p][id] = tables
	s.sendResponse(p, req.ID, initial)
}

func (s *Server) handleTransact(p peer, req *request) {
	var name string
	if len(req.Params) == 0 || s.unmarshaler.Unmarshal(req.Params[0], &name) != nil {
		s.sendError(p, req.ID, -32602, "transact expects a database name")
		return
	}
	if name != s.schema.Name {
		s.sendError(p, req.ID, -32000, fmt.Sprintf("unknown database %q", name))
		return
	}

	ops := make([]txn.Operation, 0, len(req.Params)-1)
	for _, raw := range req.Params[1:] {
		var op txn.Operation
		if err := s.unmarshaler.Unmarshal(raw, &op); err != nil {
			s.sendError(p, req.ID, -32602, fmt.Sprintf("malformed operation: %v", err))
			return
		}
		op.Value = codec.Normalize(op.Value)
		ops = append(ops, op)
	}

	// updates go out before the reply so the client mirror never lags its
	// own committed result
	s.mu.Lock()
	result, err := s.commitLocked(ops)
	s.mu.Unlock()
	if err != nil {
		s.sendError(p, req.ID, -32000, err.Error())
		return
	}
	s.transactions.Add(1)
	s.sendResponse(p, req.ID, result)
}

// commitLocked validates and applies ops atomically and broadcasts the
// resulting updates. s.mu must be held.
func (s *Server) commitLocked(ops []txn.Operation) (idl.OpResult, error) {
	for _, op := range ops {
		if _, ok := s.schema.Tables[op.Table]; !ok {
			return nil, errors.Newf("unknown table %q", op.Table)
		}
		if op.Op != txn.OpSet && op.Op != txn.OpDelete {
			return nil, errors.Newf("unknown operation %q", op.Op)
		}
	}

	result := idl.OpResult{}
	updates := idl.TableUpdates{}
	for _, op := range ops {
		if updates[op.Table] == nil {
			updates[op.Table] = make(map[string]idl.RowUpdate)
		}
		uid, exists := s.keys[op.Table][op.Key]

		var old *idl.Row
		if exists {
			prev := s.rows[op.Table][uid]
			old = &prev
		}

		switch op.Op {
		case txn.OpSet:
			if !exists {
				uid = uuid.Must(uuid.NewV4()).String()
			}
			row := idl.Row{Key: op.Key, Value: op.Value}
			s.rows[op.Table][uid] = row
			s.keys[op.Table][op.Key] = uid
			updates[op.Table][uid] = mergeUpdate(updates[op.Table][uid], old, &row)
			result[op.Key] = op.Value

		case txn.OpDelete:
			result[op.Key] = nil
			if !exists {
				continue
			}
			delete(s.rows[op.Table], uid)
			delete(s.keys[op.Table], op.Key)
			updates[op.Table][uid] = mergeUpdate(updates[op.Table][uid], old, nil)
		}
	}

	s.broadcastLocked(updates)
	return result, nil
}

// mergeUpdate folds a second change to the same row into one update.
func mergeUpdate(prev idl.RowUpdate, old, cur *idl.Row) idl.RowUpdate {
	if prev.Old != nil || prev.New != nil {
		return idl.RowUpdate{Old: prev.Old, New: cur}
	}
	return idl.RowUpdate{Old: old, New: cur}
}

func (s *Server) broadcastLocked(updates idl.TableUpdates) {
	for p, monitors := range s.monitors {
		for id, tables := range monitors {
			filtered := idl.TableUpdates{}
			for _, table := range tables {
				if rows, ok := updates[table]; ok && len(rows) > 0 {
					filtered[table] = rows
				}
			}
			if len(filtered) == 0 {
				continue
			}
			s.notify(p, idl.Update, id, filtered)
		}
	}
}

func (s *Server) notify(p peer, method idl.RPCFunction, params ...any) {
	data, err := s.marshaler.Marshal(&idl.Request{Method: string(method), Params: params})
	if err != nil {
		s.logger.Error("error marshaling notification", "error", err)
		return
	}
	if err := p.Write(data); err != nil {
		s.logger.Error("error writing notification", "error", err)
	}
}

func (s *Server) sendResponse(p peer, id, result any) {
	raw, err := s.marshaler.Marshal(result)
	if err != nil {
		s.sendError(p, id, -32603, fmt.Sprintf("sendResponse: %v", err))
		return
	}

	data, err := s.marshaler.Marshal(&idl.Response{ID: id, Result: raw})
	if err != nil {
		s.logger.Error("error marshaling response", "error", err)
		return
	}
	if err := p.Write(data); err != nil {
		s.logger.Error("error writing response", "error", err)
	}
}

func (s *Server) sendError(p peer, id any, code int, message string) {
	data, err := s.marshaler.Marshal(&idl.Response{ID: id, Error: &idl.RPCError{Code: code, Message: message}})
	if err != nil {
		s.logger.Error("error marshaling error response", "error", err)
		return
	}
	if err := p.Write(data); err != nil {
		s.logger.Error("error writing error response", "error", err)
	}
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return cryptoRandFloat64() < probability
}

func randomDuration(dMin, dMax time.Duration) time.Duration {
	if dMin >= dMax {
		return dMin
	}
	return dMin + time.Duration(cryptoRandInt64(int64(dMax-dMin)))
}

// MatchMethod creates a RequestMatcher that matches only by method name
func MatchMethod(method idl.RPCFunction) RequestMatcher {
	return RequestMatcher{Method: string(method)}
}

// SimpleStubResponse answers every call of method with response.
func SimpleStubResponse(method idl.RPCFunction, response any) StubResponse {
	return StubResponse{Matcher: MatchMethod(method), Result: response}
}

// ErrorStubResponse fails every call of method.
func ErrorStubResponse(method idl.RPCFunction, code int, message string) StubResponse {
	return StubResponse{
		Matcher: MatchMethod(method),
		Error:   &idl.RPCError{Code: code, Message: message},
	}
}
