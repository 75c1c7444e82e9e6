package idl

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	"github.com/cloudbase/neutron/pkg/constants"
)

// DefaultDialer is the gorilla dialer used for ws and wss targets.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"json"},
}

// transport moves whole JSON messages.
type transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// dial opens the transport named by target: ws://…, wss://…, tcp:host:port
// or unix:/path.
func dial(ctx context.Context, dialer *gorilla.Dialer, target string) (transport, error) {
	scheme, rest, ok := strings.Cut(target, ":")
	if !ok {
		return nil, errors.Wrapf(constants.ErrUnknownScheme, "%q", target)
	}

	switch scheme {
	case constants.WebsocketScheme, constants.SecureWebsocketScheme:
		if dialer == nil {
			dialer = DefaultDialer
		}
		conn, res, err := dialer.DialContext(ctx, target, nil)
		if err != nil {
			if res != nil {
				_ = res.Body.Close()
			}
			return nil, errors.Wrapf(err, "dial %s", target)
		}
		defer res.Body.Close()
		return &wsTransport{conn: conn}, nil

	case constants.TCPScheme, constants.UnixScheme:
		var d net.Dialer
		conn, err := d.DialContext(ctx, scheme, rest)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", target)
		}
		return newStreamTransport(conn), nil
	}

	return nil, errors.Wrapf(constants.ErrUnknownScheme, "%q", scheme)
}

type wsTransport struct {
	conn *gorilla.Conn
	// gorilla allows one concurrent writer
	writeLock sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	return t.conn.WriteMessage(gorilla.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.writeLock.Lock()
	_ = t.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
	t.writeLock.Unlock()
	return t.conn.Close()
}

// streamTransport frames messages on a byte stream as consecutive JSON values.
type streamTransport struct {
	conn      net.Conn
	dec       *json.Decoder
	writeLock sync.Mutex
}

func newStreamTransport(conn net.Conn) *streamTransport {
	return &streamTransport{conn: conn, dec: json.NewDecoder(conn)}
}

func (t *streamTransport) ReadMessage() ([]byte, error) {
	var raw json.RawMessage
	if err := t.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (t *streamTransport) WriteMessage(data []byte) error {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	_, err := t.conn.Write(data)
	return err
}

func (t *streamTransport) Close() error {
	return t.conn.Close()
}
