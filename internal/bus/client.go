package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxbridge-labs/voxbridge-core/internal/config"
	"github.com/voxbridge-labs/voxbridge-core/internal/protocol"
)

// DefaultRequestTimeout bounds a command's wait for its single
// acknowledgement.
const DefaultRequestTimeout = 5 * time.Second

// Client wraps the NATS connection with envelope-aware helpers.
type Client struct {
	conn       *nats.Conn
	log        *slog.Logger
	reqTimeout time.Duration
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no bus servers configured")
	}

	options := []nats.Option{
		nats.Name("voxbridge"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	log.Info("connected to bus", slog.String("servers", url))
	return &Client{conn: conn, log: log, reqTimeout: timeout}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing bus connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

func (c *Client) Logger() *slog.Logger {
	return c.log
}

// Publish fans out an envelope. Best effort: subscribers that have
// disappeared are silently dropped by the bus.
func (c *Client) Publish(subject string, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// Command sends one command envelope and waits for its single
// acknowledgement. A fresh command id is generated per call so
// redelivery is deduplicated receiver-side; timeouts surface as
// no-response.
func (c *Client) Command(ctx context.Context, kind protocol.Kind, tabID int, payload any) (protocol.Ack, error) {
	subject, ok := protocol.SubjectForCommand(kind)
	if !ok {
		return protocol.Ack{}, fmt.Errorf("kind %s is not a command", kind)
	}
	env, err := protocol.NewEnvelope(kind, uuid.NewString(), tabID, payload)
	if err != nil {
		return protocol.Ack{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return protocol.Ack{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) {
			return protocol.Ack{}, protocol.NewError(protocol.ErrNoResponse, "no acknowledgement for %s within %s", kind, c.reqTimeout)
		}
		return protocol.Ack{}, err
	}

	var ack protocol.Ack
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		return protocol.Ack{}, fmt.Errorf("decode ack: %w", err)
	}
	if !ack.OK && ack.Err != nil {
		return ack, &protocol.Error{Kind: ack.Err.Kind, Message: ack.Err.Message}
	}
	return ack, nil
}
