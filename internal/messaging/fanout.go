package messaging

import (
	"encoding/json"
	"log"

	"github.com/teamchat/chat-app/internal/chat"
	"github.com/teamchat/chat-app/internal/protocol"
)

// Deliverer hands an encoded event to the local connections of a channel.
// It is satisfied by *room.Router.
type Deliverer interface {
	Broadcast(channelID string, data []byte, excludeConnID string) int
}

// RoomEvent is the payload published to room.<channel> subjects.
type RoomEvent struct {
	ChannelID   string          `json:"channel_id"`
	ExcludeConn string          `json:"exclude_conn,omitempty"` // connection that must not receive the event
	Payload     json.RawMessage `json:"payload"`                // encoded server message
}

// Fanout delivers channel events to subscribers on every node. With a NATS
// client it publishes each event and delivers whatever arrives on room.>,
// including its own events, so every node applies one channel's events in
// the order the NATS server received them. Without a client it delivers to
// the local router directly.
type Fanout struct {
	client *NATSClient
	local  Deliverer
}

// NewFanout creates a fanout. client may be nil for single-node operation.
func NewFanout(client *NATSClient, local Deliverer) *Fanout {
	return &Fanout{client: client, local: local}
}

// Start subscribes to room events. It is a no-op without NATS.
func (f *Fanout) Start() error {
	if f.client == nil {
		return nil
	}
	return f.client.SubscribeRooms(f.handleRoomEvent)
}

// BroadcastMessage delivers a committed message to the channel, sender
// included.
func (f *Fanout) BroadcastMessage(msg *chat.Message) {
	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		Message: msg.Wire(),
	})
	if err != nil {
		log.Printf("[fanout] encode message id=%s: %v", msg.ID, err)
		return
	}
	f.Publish(msg.ChannelID, data, "")
}

// Publish delivers data to every connection subscribed to channelID except
// excludeConnID.
func (f *Fanout) Publish(channelID string, data []byte, excludeConnID string) {
	if f.client == nil {
		f.local.Broadcast(channelID, data, excludeConnID)
		return
	}

	raw, err := json.Marshal(RoomEvent{
		ChannelID:   channelID,
		ExcludeConn: excludeConnID,
		Payload:     data,
	})
	if err != nil {
		log.Printf("[fanout] encode room event channel=%s: %v", channelID, err)
		return
	}
	if err := f.client.PublishRoom(channelID, raw); err != nil {
		// The node's own subscribers still get the event.
		log.Printf("[fanout] publish channel=%s: %v (delivering locally)", channelID, err)
		f.local.Broadcast(channelID, data, excludeConnID)
	}
}

func (f *Fanout) handleRoomEvent(data []byte) {
	var evt RoomEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		log.Printf("[fanout] bad room event: %v", err)
		return
	}
	f.local.Broadcast(evt.ChannelID, evt.Payload, evt.ExcludeConn)
}
