package fabric

import (
	"context"
	"fmt"

	promlog "github.com/prometheus/common/log"

	"github.com/jabolina/relt/pkg/relt"

	"github.com/jabolina/dupres/pkg/dupres/types"
)

// ReltFabric is the production Fabric, generalized from the teacher's
// core.ReliableTransport (pkg/mcast/core/transport.go): there, one
// relt.Relt represented a partition's broadcast group; here, one
// relt.Relt represents this node's own reception address, and Send
// addresses a specific peer node's group directly instead of
// broadcasting to every destination partition.
type ReltFabric struct {
	log  types.Logger
	relt *relt.Relt
	pool *pool
	self types.NodeID

	handlers map[types.Channel]func(types.NodeID, *types.FabricMessage)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReltFabric opens a relt exchange addressed as self and starts
// polling for inbound messages.
func NewReltFabric(self types.NodeID, log types.Logger) (*ReltFabric, error) {
	conf := relt.DefaultReltConfiguration()
	conf.Name = string(self)
	conf.Exchange = relt.GroupAddress(self)
	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &ReltFabric{
		log:      log,
		relt:     r,
		pool:     newPool(),
		self:     self,
		handlers: make(map[types.Channel]func(types.NodeID, *types.FabricMessage)),
		ctx:      ctx,
		cancel:   cancel,
	}
	go f.poll()
	return f, nil
}

func (f *ReltFabric) MessageGet() *types.FabricMessage { return f.pool.get() }
func (f *ReltFabric) MessagePut(msg *types.FabricMessage) { f.pool.put(msg) }

// Send frames channel into the payload and broadcasts to node's own
// relt group, mirroring the single-hop unicast core.ReliableTransport
// performs for a partition address.
func (f *ReltFabric) Send(ctx context.Context, node types.NodeID, msg *types.FabricMessage, channel types.Channel) error {
	framed := frame(channel, msg.Payload)
	send := relt.Send{
		Address: relt.GroupAddress(node),
		Data:    framed,
	}
	if err := f.relt.Broadcast(ctx, send); err != nil {
		promlog.Errorf("fabric: failed sending to %s. %v", node, err)
		return err
	}
	return nil
}

func (f *ReltFabric) Register(channel types.Channel, handler func(types.NodeID, *types.FabricMessage)) {
	f.handlers[channel] = handler
}

func (f *ReltFabric) Close() error {
	f.cancel()
	return f.relt.Close()
}

func (f *ReltFabric) poll() {
	listener, err := f.relt.Consume()
	if err != nil {
		promlog.Errorf("fabric: failed consuming from relt. %v", err)
		return
	}
	for {
		select {
		case <-f.ctx.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			f.consume(recv)
		}
	}
}

func (f *ReltFabric) consume(recv relt.Recv) {
	if recv.Error != nil {
		promlog.Errorf("fabric: receive error from %s. %v", recv.Origin, recv.Error)
		return
	}
	if recv.Data == nil {
		f.log.Warnf("fabric: empty message received from %s", recv.Origin)
		return
	}

	channel, body, err := unframe(recv.Data)
	if err != nil {
		f.log.Errorf("fabric: malformed frame from %s. %v", recv.Origin, err)
		return
	}

	handler, ok := f.handlers[channel]
	if !ok {
		f.log.Warnf("fabric: no handler registered for channel %d", channel)
		return
	}

	msg := f.pool.get()
	msg.Payload = body
	handler(types.NodeID(recv.Origin), msg)
}

// frame/unframe prepend the single-byte channel tag the teacher never
// needed (a partition in go-mcast only ever exchanges one message
// shape), since this fabric multiplexes by logical channel atop one
// relt exchange.
func frame(channel types.Channel, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(channel)
	copy(out[1:], payload)
	return out
}

func unframe(data []byte) (types.Channel, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("frame too short")
	}
	return types.Channel(data[0]), data[1:], nil
}
