package harvia

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/port"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const handshakeTimeout = 15 * time.Second

// streamChannel describes one realtime subscription: which discovered
// endpoint hosts it, the subscription document and the payload field the
// backend delivers records under.
type streamChannel struct {
	endpoint string
	query    string
	field    string
}

// The backend splits pushes over two appsync APIs: sensor data rides the
// data endpoint, device settings (displayName and friends) the device
// endpoint. Both feed the same delta handler.
var streamChannels = []streamChannel{
	{endpoint: "data", query: subscriptionDeviceData, field: "onDeviceDataChanged"},
	{endpoint: "device", query: subscriptionDeviceChanged, field: "onDeviceChanged"},
}

// Dialer opens the appsync realtime subscriptions for a device. Each Dial
// produces one ephemeral connection; reconnecting means dialing a fresh
// one.
type Dialer struct {
	client  *Client
	session port.SessionProvider
	logger  *zap.Logger
}

var _ port.StreamDialer = (*Dialer)(nil)

func NewDialer(client *Client, session port.SessionProvider, logger *zap.Logger) *Dialer {
	return &Dialer{
		client:  client,
		session: session,
		logger:  logger.With(zap.String("component", "stream")),
	}
}

type wsMessage struct {
	Id      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// channelSock is one live websocket carrying one subscription.
type channelSock struct {
	ws    *websocket.Conn
	subId string
	field string
	name  string
}

type streamConn struct {
	socks     []*channelSock
	logger    *zap.Logger
	closeOnce sync.Once
	notify    sync.Once
}

var _ port.StreamConn = (*streamConn)(nil)

// Dial connects both channels, performs the connection_init/start
// handshake on each and hands a running connection back. The handler
// starts receiving only after every start_ack; handshake failures are
// returned synchronously with any already-open channel torn down.
func (d *Dialer) Dial(ctx context.Context, deviceID string, handler port.StreamHandler) (port.StreamConn, error) {
	token, err := d.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	conn := &streamConn{logger: d.logger}
	for _, ch := range streamChannels {
		sock, err := d.dialChannel(ctx, ch, deviceID, token)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn.socks = append(conn.socks, sock)
	}

	d.logger.Info("subscription streams established", zap.String("deviceId", deviceID))
	for _, sock := range conn.socks {
		go conn.readPump(sock, handler)
	}
	return conn, nil
}

func (d *Dialer) dialChannel(ctx context.Context, ch streamChannel, deviceID, token string) (*channelSock, error) {
	wssURL, host, err := d.client.websocketTarget(ctx, ch.endpoint, token)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{"graphql-ws"},
		HandshakeTimeout: handshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, wssURL, nil)
	if err != nil {
		if resp != nil {
			if serr := classifyStatus(resp.StatusCode); serr != nil {
				return nil, serr
			}
		}
		return nil, fmt.Errorf("%w: websocket dial (%s): %v", domain.ErrTransient, ch.endpoint, err)
	}

	subId := uuid.NewString()
	if err := handshake(ws, subId, ch.query, deviceID, token, host); err != nil {
		ws.Close()
		return nil, err
	}
	return &channelSock{ws: ws, subId: subId, field: ch.field, name: ch.endpoint}, nil
}

// handshake runs connection_init/connection_ack then start/start_ack,
// skipping keep-alives that arrive in between.
func handshake(ws *websocket.Conn, subId, query, deviceID, token, host string) error {
	deadline := time.Now().Add(handshakeTimeout)
	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	if err := ws.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		return fmt.Errorf("%w: connection_init: %v", domain.ErrTransient, err)
	}
	if err := awaitType(ws, "connection_ack"); err != nil {
		return err
	}

	start := map[string]any{
		"id":   subId,
		"type": "start",
		"payload": map[string]any{
			"data": map[string]any{
				"query":     query,
				"variables": map[string]any{"deviceId": deviceID},
			},
			"extensions": map[string]any{
				"authorization": map[string]string{
					"Authorization": token,
					"host":          host,
				},
			},
		},
	}
	if err := ws.WriteJSON(start); err != nil {
		return fmt.Errorf("%w: subscription start: %v", domain.ErrTransient, err)
	}
	return awaitType(ws, "start_ack")
}

func awaitType(ws *websocket.Conn, want string) error {
	for {
		var msg wsMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%w: awaiting %s: %v", domain.ErrTransient, want, err)
		}
		switch msg.Type {
		case want:
			return nil
		case "ka":
			continue
		case "connection_error", "error":
			return fmt.Errorf("%w: handshake rejected: %s", domain.ErrUnauthorized, string(msg.Payload))
		}
	}
}

// readPump decodes incoming frames from one channel into handler
// callbacks until the connection dies. The two pumps share one OnClosed:
// whichever fails first reports, the other goes down with the teardown.
func (c *streamConn) readPump(sock *channelSock, handler port.StreamHandler) {
	for {
		var msg wsMessage
		if err := sock.ws.ReadJSON(&msg); err != nil {
			c.reportClosed(handler, fmt.Errorf("%w: stream read (%s): %v", domain.ErrTransient, sock.name, err))
			return
		}
		switch msg.Type {
		case "ka":
			handler.OnKeepAlive()
		case "data":
			var payload struct {
				Data map[string]map[string]any `json:"data"`
			}
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				c.logger.Warn("undecodable data frame", zap.String("channel", sock.name), zap.Error(err))
				continue
			}
			record := payload.Data[sock.field]
			if record == nil {
				continue
			}
			handler.OnDelta(decodeDelta(record))
		case "error":
			c.reportClosed(handler, fmt.Errorf("%w: stream error frame (%s): %s",
				classifyStreamError(msg.Payload), sock.name, string(msg.Payload)))
			return
		case "complete":
			c.reportClosed(handler, fmt.Errorf("%w: subscription completed by backend (%s)", domain.ErrTransient, sock.name))
			return
		default:
			c.logger.Debug("ignoring stream frame", zap.String("channel", sock.name), zap.String("type", msg.Type))
		}
	}
}

// reportClosed delivers exactly one OnClosed per Dial, no matter which
// channel fails first or how many pumps unwind.
func (c *streamConn) reportClosed(handler port.StreamHandler, err error) {
	c.notify.Do(func() {
		handler.OnClosed(err)
	})
}

// classifyStreamError distinguishes expired-token error frames from
// generic stream failures.
func classifyStreamError(payload json.RawMessage) error {
	var body struct {
		Errors []struct {
			ErrorType string `json:"errorType"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		for _, e := range body.Errors {
			switch e.ErrorType {
			case "Unauthorized", "UnauthorizedException":
				return domain.ErrUnauthorized
			}
		}
	}
	return domain.ErrTransient
}

// Close stops the subscriptions and tears down both sockets. Safe to call
// more than once and concurrently with the read pumps.
func (c *streamConn) Close() {
	c.closeOnce.Do(func() {
		for _, sock := range c.socks {
			_ = sock.ws.WriteJSON(wsMessage{Id: sock.subId, Type: "stop"})
			_ = sock.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = sock.ws.Close()
		}
	})
}
