package adminclient

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/mir00r/failover-controller/internal/domain"
	"github.com/mir00r/failover-controller/internal/errors"
	"github.com/mir00r/failover-controller/pkg/logger"
)

// Client speaks the load balancer's line-oriented runtime control protocol:
// one `disable server <pool>/<id>` or `enable server <pool>/<id>` command per
// connection, acknowledged by a blank line on success or an error line
// otherwise.
//
// The client performs no internal retries. Retries are an emergent property
// of the controller loop re-evaluating the same rule on the next tick, which
// keeps this a side-effect-transparent protocol wrapper.
type Client struct {
	network  string
	address  string
	timeout  time.Duration
	backends domain.BackendMap
	logger   *logger.Logger
}

// Config holds administration channel client configuration
type Config struct {
	Network string
	Address string
	Timeout time.Duration
}

// New creates an administration channel client
func New(config Config, backends domain.BackendMap, log *logger.Logger) *Client {
	return &Client{
		network:  config.Network,
		address:  config.Address,
		timeout:  config.Timeout,
		backends: backends,
		logger:   log.AdminChannelLogger(config.Network, config.Address),
	}
}

// Apply disables the server mapped to disable, then enables the server mapped
// to enable, in that order. Disable-before-enable guarantees there is never a
// window where both backends are simultaneously preferred, and if the enable
// step fails, having already disabled the outgoing backend is safer than
// leaving an overloaded backend live.
//
// On any failure no partial state is assumed consistent; the caller decides
// whether to retry on a later tick.
func (c *Client) Apply(ctx context.Context, disable, enable domain.BackendRole) error {
	if disable == enable {
		return errors.NewError(errors.ErrCodeInternal, "admin_channel",
			fmt.Sprintf("refusing to disable and enable the same role: %s", disable))
	}

	disableCmd := fmt.Sprintf("disable server %s/%s", c.backends.Pool, c.backends.ServerFor(disable))
	enableCmd := fmt.Sprintf("enable server %s/%s", c.backends.Pool, c.backends.ServerFor(enable))

	if err := c.send(ctx, disableCmd); err != nil {
		return err
	}
	if err := c.send(ctx, enableCmd); err != nil {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"disabled": c.backends.ServerFor(disable),
		"enabled":  c.backends.ServerFor(enable),
	}).Info("Administration commands applied")

	return nil
}

// send issues a single command on a fresh connection and reads the
// acknowledgment. The control endpoint processes one command per connection.
func (c *Client) send(ctx context.Context, command string) error {
	dialer := net.Dialer{Timeout: c.timeout}

	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		if isTimeout(err) {
			return errors.NewAdminTimeoutError(command, err)
		}
		return errors.NewAdminChannelError(
			fmt.Sprintf("failed to connect to control endpoint for %q", command), err)
	}
	defer conn.Close()

	// Bound the whole round trip; a stuck channel must not starve later ticks.
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return errors.NewAdminChannelError("failed to set connection deadline", err)
	}

	c.logger.WithField("command", command).Debug("Sending administration command")

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		if isTimeout(err) {
			return errors.NewAdminTimeoutError(command, err)
		}
		return errors.NewAdminChannelError(fmt.Sprintf("failed to send %q", command), err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && err != io.EOF {
		if isTimeout(err) {
			return errors.NewAdminTimeoutError(command, err)
		}
		return errors.NewAdminChannelError(fmt.Sprintf("failed to read acknowledgment for %q", command), err)
	}

	// A blank acknowledgment (or clean close with no output) is success;
	// anything else is the control endpoint's error text.
	reply = strings.TrimSpace(reply)
	if reply != "" {
		c.logger.WithFields(map[string]interface{}{
			"command": command,
			"reply":   reply,
		}).Warn("Administration command rejected")
		return errors.NewAdminNackError(command, reply)
	}

	return nil
}

// isTimeout reports whether err is a network timeout
func isTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
