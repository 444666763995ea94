package stt

import (
	"context"
	"net/http"
)

// TransportHandler receives the lifecycle and message callbacks of one connection.
// OnConnected is called at most once and always before OnMessage.
// OnDisconnected is the last callback; err is nil for an intentional close.
type TransportHandler interface {
	OnConnected()
	OnDisconnected(err error)
	OnMessage(payload []byte)
}

// Transport is a full-duplex message socket the streaming client drives.
//
// Connect starts the handshake and returns without waiting for it; it must not
// invoke handler callbacks before returning. Sends must not block on the network.
type Transport interface {
	Connect(ctx context.Context, url string, header http.Header, handler TransportHandler) error
	SendBinary(data []byte) error
	SendText(text string) error
	Disconnect() error
}
