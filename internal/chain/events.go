package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StateChangedTopic is topic0 of the Mirror event StateChanged(bytes32).
// The event carries a single opaque state hash; only its occurrence matters.
var StateChangedTopic = crypto.Keccak256Hash([]byte("StateChanged(bytes32)"))

// Log is an Ethereum log delivered by a logs subscription.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	Removed     bool           `json:"removed"`
}

// Subscription delivers logs until it is unsubscribed or the connection drops.
type Subscription interface {
	Logs() <-chan Log
	Unsubscribe()
}

// EventSubscriber opens eth_subscribe log subscriptions over websocket.
type EventSubscriber struct {
	url    string
	dialer websocket.Dialer
	logger zerolog.Logger
}

// NewEventSubscriber creates a subscriber for the given ws:// or wss:// URL.
// http(s) URLs are converted.
func NewEventSubscriber(url string, logger zerolog.Logger) *EventSubscriber {
	switch {
	case strings.HasPrefix(url, "https"):
		url = "wss" + url[5:]
	case strings.HasPrefix(url, "http"):
		url = "ws" + url[4:]
	}
	return &EventSubscriber{
		url: url,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "event_subscriber").Logger(),
	}
}

type logFilter struct {
	Address common.Address  `json:"address"`
	Topics  [][]common.Hash `json:"topics"`
}

type subscriptionNotice struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// SubscribeStateChanged subscribes to StateChanged logs emitted by program.
// It returns after the node has acknowledged the subscription.
func (s *EventSubscriber) SubscribeStateChanged(ctx context.Context, program common.Address) (Subscription, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  "eth_subscribe",
		Params: []any{"logs", logFilter{
			Address: program,
			Topics:  [][]common.Hash{{StateChangedTopic}},
		}},
		ID: 1,
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write subscribe: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	// A node that never acks must not pin the caller past ctx.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	var ack RPCResponse
	err = conn.ReadJSON(&ack)
	if !stop() {
		conn.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("read subscribe ack: %w", err)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read subscribe ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if ack.Error != nil {
		conn.Close()
		return nil, ack.Error
	}
	var subID string
	if err := json.Unmarshal(ack.Result, &subID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unmarshal subscription id: %w", err)
	}

	sub := &logSubscription{
		conn:   conn,
		id:     subID,
		logs:   make(chan Log, 8),
		done:   make(chan struct{}),
		logger: s.logger.With().Str("subscription", subID).Str("program", program.Hex()).Logger(),
	}
	go sub.handleMessages()

	s.logger.Debug().Str("subscription", subID).Str("program", program.Hex()).Msg("subscribed to StateChanged")
	return sub, nil
}

type logSubscription struct {
	conn   *websocket.Conn
	id     string
	logs   chan Log
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func (s *logSubscription) Logs() <-chan Log { return s.logs }

func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteJSON(RPCRequest{
			JSONRPC: "2.0",
			Method:  "eth_unsubscribe",
			Params:  []any{s.id},
			ID:      2,
		})
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.conn.Close()
	})
}

func (s *logSubscription) handleMessages() {
	defer close(s.logs)
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn().Err(err).Msg("log subscription closed")
			}
			return
		}

		var notice subscriptionNotice
		if err := json.Unmarshal(message, &notice); err != nil {
			continue
		}
		if notice.Method != "eth_subscription" || notice.Params.Subscription != s.id {
			continue
		}

		var l Log
		if err := json.Unmarshal(notice.Params.Result, &l); err != nil {
			s.logger.Warn().Err(err).Msg("malformed log")
			continue
		}
		if l.Removed {
			continue
		}

		select {
		case s.logs <- l:
		case <-s.done:
			return
		}
	}
}
