package channel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/graphscript/evalserver/internal/domain"
	"github.com/graphscript/evalserver/internal/observability"
)

// wireRequest is the requestId/op/args envelope an incoming request message
// is decoded from; the Frame Builder's outgoing envelope is
// requestId/code/statusMessage/result.
type wireRequest struct {
	RequestID string         `json:"requestId" cbor:"requestId"`
	Op        string         `json:"op" cbor:"op"`
	Args      map[string]any `json:"args" cbor:"args"`
}

// Processor handles one decoded request end to end: dispatch, evaluation,
// and writing the terminal frame back onto channel.
type Processor func(ctx domain.Context, ch domain.Channel, msg domain.RequestMessage)

// upgrader negotiates the websocket handshake; origin checking is left to
// the caller's reverse proxy, matching how the rest of the admin surface
// delegates network-edge policy to its front door.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Listener accepts websocket connections and feeds each decoded request to
// a Processor, one goroutine per in-flight request so a slow evaluation on
// one request never blocks reads for the others sharing the connection.
type Listener struct {
	useBinary bool
	logger    *slog.Logger
	process   Processor
	conns     *observability.ConnectionMetrics
}

// NewListener constructs a Listener. process is invoked once per decoded
// request message.
func NewListener(useBinary bool, logger *slog.Logger, process Processor) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		useBinary: useBinary,
		logger:    logger,
		process:   process,
		conns:     observability.NewConnectionMetrics(observability.ConnectionTypeChannel, observability.OperationTypeRequest, "websocket"),
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the client
// disconnects or a fatal read error occurs.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	l.conns.RecordRequest()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		l.conns.RecordFailure(err, time.Since(start))
		return
	}

	ch := New(conn, l.useBinary, l.logger)
	defer ch.Close()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			l.conns.RecordSuccess(time.Since(start))
			return
		}
		msg := decode(payload, msgType == websocket.BinaryMessage)
		go l.process(r.Context(), ch, msg)
	}
}

// decode parses a raw incoming frame into a RequestMessage, choosing CBOR
// or JSON by the frame's wire type. A parse failure maps to
// domain.OpInvalid so the Dispatcher can surface the standard malformed
// request error (spec §4.1).
func decode(payload []byte, binary bool) domain.RequestMessage {
	var wire wireRequest
	var err error
	if binary {
		err = cbor.Unmarshal(payload, &wire)
	} else {
		err = json.Unmarshal(payload, &wire)
	}
	if err != nil || wire.Op == "" {
		return domain.RequestMessage{RequestID: wire.RequestID, Op: domain.OpInvalid}
	}
	return domain.RequestMessage{
		RequestID: wire.RequestID,
		Op:        domain.OpCode(wire.Op),
		Args:      wire.Args,
	}
}
