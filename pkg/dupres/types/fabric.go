package types

import "context"

// Channel multiplexes logical traffic classes over a single fabric
// connection. The core only ever uses RW.
type Channel uint8

const (
	// RW is the single logical channel the duplicate-resolution core
	// sends and receives probes and acks on.
	RW Channel = iota
)

// FabricMessage is a pooled, reusable buffer carrying one framed wire
// message. Every message obtained from MessageGet (directly, or
// implicitly via a receive callback) must reach exactly one of two
// destinies: it is stored by whoever received it, or it is returned to
// the pool with MessagePut. Never both.
type FabricMessage struct {
	Payload []byte
}

// Fabric is the transport boundary: send/receive of framed messages
// to/from named peers, plus the message pool the wire codec and the
// core's ownership discipline are built on.
type Fabric interface {
	// MessageGet obtains a pooled, empty message buffer.
	MessageGet() *FabricMessage

	// MessagePut returns a message buffer to the pool. Safe to call on
	// a message obtained from MessageGet or handed to a receive
	// callback.
	MessagePut(msg *FabricMessage)

	// Send transmits msg to node on channel. On failure the caller
	// retains ownership of msg and must return it with MessagePut.
	Send(ctx context.Context, node NodeID, msg *FabricMessage, channel Channel) error

	// Register installs the receive callback for channel. Only one
	// handler may be registered per channel.
	Register(channel Channel, handler func(node NodeID, msg *FabricMessage))

	// Close tears down the transport and stops delivering received
	// messages.
	Close() error
}
