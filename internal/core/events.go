package core

// Event is the `type` discriminator carried by every socket envelope
// (spec.md §6.1). Handling is by exhaustive switch in internal/relay,
// not by a subclass per event.
type Event string

const (
	// Room events, client -> server.
	EventRoomJoin    Event = "room:join"
	EventRoomCreate  Event = "room:create"
	EventRoomLeave   Event = "room:leave"
	EventRoomEndCall Event = "room:end-call"

	// Room events, server -> client.
	EventRoomCreated Event = "room:created"
	EventRoomJoined  Event = "room:joined"
	EventUserJoined  Event = "room:user-joined"
	EventUserLeft    Event = "room:user-left"
	EventCallEnded   Event = "room:call-ended"

	// Participant events.
	EventUpdateMediaState  Event = "participant:update-media-state"
	EventMediaStateChanged Event = "participant:media-state-changed"

	// WebRTC mesh signaling, bidirectional.
	EventOffer         Event = "webrtc:offer"
	EventAnswer        Event = "webrtc:answer"
	EventICECandidate  Event = "webrtc:ice-candidate"
	EventGetICEServers Event = "webrtc:get-ice-servers"
	EventICEServers    Event = "webrtc:ice-servers"

	// SFU events, client -> server.
	EventSfuJoinRoom         Event = "sfu:join-room"
	EventSfuCreateTransport  Event = "sfu:create-transport"
	EventSfuConnectTransport Event = "sfu:connect-transport"
	EventSfuProduce          Event = "sfu:produce"
	EventSfuConsume          Event = "sfu:consume"
	EventSfuResumeConsumer   Event = "sfu:resume-consumer"
	EventSfuPauseProducer    Event = "sfu:pause-producer"

	// SFU events, server -> client.
	EventSfuRouterCapabilities Event = "sfu:router-rtp-capabilities"
	EventSfuTransportCreated   Event = "sfu:transport-created"
	EventSfuTransportConnected Event = "sfu:transport-connected"
	EventSfuProducerCreated    Event = "sfu:producer-created"
	EventSfuConsumerCreated    Event = "sfu:consumer-created"
	EventSfuConsumerClosed     Event = "sfu:consumer-closed"
	EventSfuConsumerResumed    Event = "sfu:consumer-resumed"
	EventSfuProducerPaused     Event = "sfu:producer-paused"
	EventSfuNewProducer        Event = "sfu:new-producer"

	// Chat.
	EventChatMessage Event = "chat:message"
	EventChatTyping  Event = "chat:typing"

	// Admin/diagnostic.
	EventAdminRoomStats Event = "admin:get-room-stats"
	EventAdminAllRooms  Event = "admin:get-all-rooms"

	// Generic error envelope.
	EventError Event = "error"
)
