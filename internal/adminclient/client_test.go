package adminclient

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/failover-controller/internal/domain"
	"github.com/mir00r/failover-controller/internal/errors"
	"github.com/mir00r/failover-controller/pkg/logger"
)

var testBackends = domain.BackendMap{
	Pool:    "webdb",
	Primary: "primarydb",
	Backup:  "backupdb",
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return log
}

// fakeControlEndpoint accepts one command per connection and answers with the
// scripted reply for that connection, in order. An empty reply acknowledges
// success the way the real control socket does: a blank line.
type fakeControlEndpoint struct {
	listener net.Listener

	mu       sync.Mutex
	replies  []string
	received []string
}

func startFakeControlEndpoint(t *testing.T, replies ...string) *fakeControlEndpoint {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeControlEndpoint{listener: listener, replies: replies}

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go f.handle(conn)
		}
	}()

	t.Cleanup(func() { listener.Close() })

	return f
}

func (f *fakeControlEndpoint) handle(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}

	f.mu.Lock()
	f.received = append(f.received, strings.TrimSpace(line))
	reply := ""
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	conn.Write([]byte(reply + "\n"))
}

func (f *fakeControlEndpoint) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	copy(out, f.received)
	return out
}

func (f *fakeControlEndpoint) addr() string {
	return f.listener.Addr().String()
}

func newTestClient(t *testing.T, address string, timeout time.Duration) *Client {
	t.Helper()
	return New(Config{Network: "tcp", Address: address, Timeout: timeout}, testBackends, newTestLogger(t))
}

func TestClientAppliesDisableThenEnable(t *testing.T) {
	endpoint := startFakeControlEndpoint(t, "", "")
	client := newTestClient(t, endpoint.addr(), time.Second)

	err := client.Apply(context.Background(), domain.RolePrimary, domain.RoleBackup)
	require.NoError(t, err)

	commands := endpoint.commands()
	require.Len(t, commands, 2)
	assert.Equal(t, "disable server webdb/primarydb", commands[0])
	assert.Equal(t, "enable server webdb/backupdb", commands[1])
}

func TestClientFailbackCommandMapping(t *testing.T) {
	endpoint := startFakeControlEndpoint(t, "", "")
	client := newTestClient(t, endpoint.addr(), time.Second)

	err := client.Apply(context.Background(), domain.RoleBackup, domain.RolePrimary)
	require.NoError(t, err)

	commands := endpoint.commands()
	require.Len(t, commands, 2)
	assert.Equal(t, "disable server webdb/backupdb", commands[0])
	assert.Equal(t, "enable server webdb/primarydb", commands[1])
}

func TestClientNegativeAcknowledgmentFailsOperation(t *testing.T) {
	endpoint := startFakeControlEndpoint(t, "No such server.")
	client := newTestClient(t, endpoint.addr(), time.Second)

	err := client.Apply(context.Background(), domain.RolePrimary, domain.RoleBackup)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAdminNack))
	assert.Contains(t, err.Error(), "rejected")

	// The enable command is never sent once the disable command is rejected
	assert.Len(t, endpoint.commands(), 1)
}

func TestClientEnableNackAfterDisableAck(t *testing.T) {
	endpoint := startFakeControlEndpoint(t, "", "Server is in maintenance mode.")
	client := newTestClient(t, endpoint.addr(), time.Second)

	err := client.Apply(context.Background(), domain.RolePrimary, domain.RoleBackup)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAdminNack))
	assert.Len(t, endpoint.commands(), 2)
}

func TestClientConnectionRefused(t *testing.T) {
	// Grab a free port, then close it so nothing is listening
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	listener.Close()

	client := newTestClient(t, address, 200*time.Millisecond)

	err = client.Apply(context.Background(), domain.RolePrimary, domain.RoleBackup)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAdminChannel))
	assert.True(t, errors.IsRetryable(err))
}

func TestClientTimeoutOnSilentEndpoint(t *testing.T) {
	// Endpoint accepts the connection but never acknowledges
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			// Hold the connection open without responding
			defer conn.Close()
		}
	}()

	client := newTestClient(t, listener.Addr().String(), 100*time.Millisecond)

	start := time.Now()
	err = client.Apply(context.Background(), domain.RolePrimary, domain.RoleBackup)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeAdminTimeout))
	assert.Less(t, elapsed, time.Second, "timeout must bound the round trip")
}

func TestClientCleanCloseWithoutReplyIsSuccess(t *testing.T) {
	// Some control endpoints close the connection with no output on success
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			bufio.NewReader(conn).ReadString('\n')
			conn.Close()
		}
	}()

	client := newTestClient(t, listener.Addr().String(), time.Second)

	err = client.Apply(context.Background(), domain.RolePrimary, domain.RoleBackup)
	assert.NoError(t, err)
}

func TestClientRefusesSameRole(t *testing.T) {
	endpoint := startFakeControlEndpoint(t)
	client := newTestClient(t, endpoint.addr(), time.Second)

	err := client.Apply(context.Background(), domain.RolePrimary, domain.RolePrimary)
	require.Error(t, err)
	assert.Empty(t, endpoint.commands(), "no command may reach the endpoint")
}

func TestClientHonorsContextDeadline(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	client := newTestClient(t, listener.Addr().String(), 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = client.Apply(ctx, domain.RolePrimary, domain.RoleBackup)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
