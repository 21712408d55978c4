package ws

import (
	"log"

	"github.com/teamchat/chat-app/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client message.
// The msg parameter is the concrete struct returned by protocol.ParseClientMessage
// (e.g., protocol.SendMessageMsg, protocol.FetchPageMsg, etc.).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket messages to registered handlers
// based on the message type. It handles the built-in ping/pong keepalive
// internally and answers malformed or unsupported messages with an error
// event to the sending connection only.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with a message type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed message, handles ping internally, and routes all other types to
// the registered handler.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error session=%s: %v", conn.ID, err)
		if msgType != "" && !protocol.IsClientType(msgType) {
			SendError(conn, protocol.CodeUnsupportedType, "unsupported message type", "")
			return
		}
		SendError(conn, protocol.CodeParseError, "invalid message format", "")
		return
	}

	if msgType == protocol.TypePing {
		sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q session=%s", msgType, conn.ID)
		SendError(conn, protocol.CodeUnsupportedType, "unsupported message type", "")
		return
	}

	handler(conn, msg)
}

// Sink is anything that accepts encoded server events.
type Sink interface {
	ConnectionID() string
	Send(data []byte) bool
}

// SendError queues a structured error event on conn. Errors during message
// construction are logged but not propagated.
func SendError(conn Sink, code, message, requestID string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
	if err != nil {
		log.Printf("ws: failed to build error message session=%s: %v", conn.ConnectionID(), err)
		return
	}
	if !conn.Send(data) {
		log.Printf("ws: failed to queue error message session=%s", conn.ConnectionID())
	}
}

func sendPong(conn *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("ws: failed to build pong message session=%s: %v", conn.ID, err)
		return
	}
	conn.Send(data)
}
