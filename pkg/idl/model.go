package idl

import (
	json "github.com/goccy/go-json"
)

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

func (r *RPCError) Error() string {
	if r.Details != "" {
		return r.Message + ": " + r.Details
	}
	return r.Message
}

// Request is an outgoing call. A request with a nil ID is a notification.
type Request struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     any             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// message is any incoming frame before it is classified as a request,
// notification or response.
type message struct {
	ID     any               `json:"id"`
	Method string            `json:"method,omitempty"`
	Params []json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  *RPCError         `json:"error,omitempty"`
}

// Notification is a server-initiated message without a reply.
type Notification struct {
	Method string
	Params []json.RawMessage
}

type RPCFunction string

var (
	GetSchema RPCFunction = "get_schema"
	Monitor   RPCFunction = "monitor"
	Transact  RPCFunction = "transact"
	Echo      RPCFunction = "echo"
	Update    RPCFunction = "update"
)

// Schema describes a database and its tables.
type Schema struct {
	Name    string                 `json:"name"`
	Version string                 `json:"version,omitempty"`
	Tables  map[string]TableSchema `json:"tables"`
}

type TableSchema struct {
	Columns map[string]ColumnSchema `json:"columns,omitempty"`
}

type ColumnSchema struct {
	Type string `json:"type"`
}

// Row is one replicated record.
type Row struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// RowUpdate describes one row change; Old is nil for an insert and New is
// nil for a delete.
type RowUpdate struct {
	Old *Row `json:"old,omitempty"`
	New *Row `json:"new,omitempty"`
}

// TableUpdates maps table name to row UUID to change.
type TableUpdates map[string]map[string]RowUpdate

// OpResult is the object a transact call returns: every touched key mapped
// to its committed value, nil for deletions.
type OpResult map[string]any
