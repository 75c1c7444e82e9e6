package idl_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/cloudbase/neutron/internal/fakeovsdb"
	"github.com/cloudbase/neutron/pkg/constants"
	"github.com/cloudbase/neutron/pkg/idl"
	"github.com/cloudbase/neutron/pkg/poller"
	"github.com/cloudbase/neutron/pkg/txn"
)

type ClientTestSuite struct {
	suite.Suite
	stream bool
	server *fakeovsdb.Server
}

func TestClientOverWebSocket(t *testing.T) {
	suite.Run(t, &ClientTestSuite{})
}

func TestClientOverStream(t *testing.T) {
	suite.Run(t, &ClientTestSuite{stream: true})
}

func (s *ClientTestSuite) SetupTest() {
	s.server = fakeovsdb.NewServer("127.0.0.1:0", fakeovsdb.DefaultSchema())
	if s.stream {
		s.Require().NoError(s.server.StartStream())
	} else {
		s.Require().NoError(s.server.Start())
	}
}

func (s *ClientTestSuite) TearDownTest() {
	s.Require().NoError(s.server.Stop())
}

func (s *ClientTestSuite) target() string {
	if s.stream {
		return s.server.StreamTarget()
	}
	return s.server.URL()
}

func (s *ClientTestSuite) dial(tables ...string) *idl.Client {
	c, err := idl.Dial(context.Background(), idl.Config{
		Target:  s.target(),
		Schema:  "Test",
		Tables:  tables,
		Timeout: 5 * time.Second,
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

// waitAndRun blocks on the client's handle like the connection loop does.
func (s *ClientTestSuite) waitAndRun(c *idl.Client) {
	p := poller.New()
	c.Wait(p)
	p.TimerWait(5 * time.Second)
	n, err := p.Block()
	s.Require().NoError(err)
	s.Require().Equal(1, n, "client handle never became ready")
	s.Require().NoError(c.Run())
}

func (s *ClientTestSuite) TestInitialSnapshot() {
	s.Require().NoError(s.server.Seed("kv", map[string]any{"a": 1, "b": "two"}))

	c := s.dial()

	s.Equal([]string{"kv"}, c.Tables())
	s.Equal("Test", c.Schema().Name)
	s.Equal(map[string]any{"a": int64(1), "b": "two"}, c.Rows("kv"))

	v, ok := c.Get("kv", "a")
	s.True(ok)
	s.Equal(int64(1), v)

	_, ok = c.Get("kv", "missing")
	s.False(ok)
}

func (s *ClientTestSuite) TestUnknownTable() {
	_, err := idl.Dial(context.Background(), idl.Config{
		Target: s.target(),
		Schema: "Test",
		Tables: []string{"nope"},
	})
	s.Require().ErrorIs(err, constants.ErrUnknownTable)
}

func (s *ClientTestSuite) TestUnknownDatabase() {
	_, err := idl.Dial(context.Background(), idl.Config{
		Target: s.target(),
		Schema: "Other",
	})
	s.Require().Error(err)
	s.Contains(err.Error(), "unknown database")
}

func (s *ClientTestSuite) TestCommitUpdatesMirror() {
	c := s.dial("kv")
	seqno := c.Seqno()

	res, err := c.Commit(context.Background(), txn.New(txn.Set("a", 1)))
	s.Require().NoError(err)
	s.Equal(idl.OpResult{"a": int64(1)}, res)

	// the update is sent before the reply, so it is already buffered
	s.waitAndRun(c)
	v, ok := c.Get("kv", "a")
	s.True(ok)
	s.Equal(int64(1), v)
	s.Greater(c.Seqno(), seqno)

	res, err = c.Commit(context.Background(), txn.New(txn.Delete("a")))
	s.Require().NoError(err)
	s.Equal(idl.OpResult{"a": nil}, res)

	s.waitAndRun(c)
	_, ok = c.Get("kv", "a")
	s.False(ok)
	s.Empty(s.server.Rows("kv"))
}

func (s *ClientTestSuite) TestOtherClientsSeeCommits() {
	writer := s.dial()
	reader := s.dial()

	_, err := writer.Commit(context.Background(), txn.New(txn.Set("x", "y")))
	s.Require().NoError(err)

	s.waitAndRun(reader)
	v, ok := reader.Get("kv", "x")
	s.True(ok)
	s.Equal("y", v)
}

func (s *ClientTestSuite) TestCommitRejectsBadOperations() {
	c := s.dial()

	_, err := c.Commit(context.Background(), txn.New(txn.Operation{Op: "merge", Key: "a"}))
	s.ErrorIs(err, constants.ErrUnknownOperation)

	_, err = c.Commit(context.Background(), txn.New(txn.Operation{Op: txn.OpSet, Table: "other", Key: "a"}))
	s.ErrorIs(err, constants.ErrUnknownTable)

	s.Zero(s.server.Transactions())
}

func (s *ClientTestSuite) TestCommitServerError() {
	s.server.AddStubResponse(fakeovsdb.ErrorStubResponse(idl.Transact, -32000, "conflict"))
	c := s.dial()

	_, err := c.Commit(context.Background(), txn.New(txn.Set("a", 1)))
	s.Require().Error(err)

	var rpcErr *idl.RPCError
	s.Require().ErrorAs(err, &rpcErr)
	s.Equal("conflict", rpcErr.Message)
}

func (s *ClientTestSuite) TestCommitTimeout() {
	s.server.AddStubResponse(fakeovsdb.StubResponse{
		Matcher:  fakeovsdb.MatchMethod(idl.Transact),
		Failures: []fakeovsdb.FailureConfig{{Type: fakeovsdb.FailureNoResponse, Probability: 1}},
	})
	c, err := idl.Dial(context.Background(), idl.Config{
		Target:  s.target(),
		Schema:  "Test",
		Timeout: 100 * time.Millisecond,
	})
	s.Require().NoError(err)
	defer c.Close()

	_, err = c.Commit(context.Background(), txn.New(txn.Set("a", 1)))
	s.ErrorIs(err, constants.ErrTimeout)
}

func (s *ClientTestSuite) TestAnswersEcho() {
	_ = s.dial()

	s.Require().NoError(s.server.SendEcho())
	s.Eventually(func() bool {
		return s.server.EchoReplies() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func (s *ClientTestSuite) TestTransportLossReportedOnce() {
	c := s.dial()

	s.Require().NoError(s.server.Stop())

	s.Eventually(func() bool {
		return c.Run() != nil
	}, 5*time.Second, 10*time.Millisecond)
	s.NoError(c.Run())

	_, err := c.Commit(context.Background(), txn.New(txn.Set("a", 1)))
	s.Error(err)
}

func TestDialUnknownScheme(t *testing.T) {
	_, err := idl.Dial(context.Background(), idl.Config{Target: "gopher://localhost", Schema: "Test"})
	require.ErrorIs(t, err, constants.ErrUnknownScheme)
}

func TestRPCError(t *testing.T) {
	assert.Equal(t, "conflict", (&idl.RPCError{Message: "conflict"}).Error())
	assert.Equal(t, "conflict: row a", (&idl.RPCError{Message: "conflict", Details: "row a"}).Error())
}
