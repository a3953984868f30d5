package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/jabolina/dupres/pkg/dupres/types"
)

// Switch is a shared in-process router several Memory fabrics attach
// to, standing in for the network during tests — the same role the
// teacher's test.TestInvoker plays for goroutine dispatch, but for
// peer-to-peer delivery instead.
type Switch struct {
	mu    sync.Mutex
	nodes map[types.NodeID]*Memory
}

// NewSwitch builds an empty in-process fabric switch.
func NewSwitch() *Switch {
	return &Switch{nodes: make(map[types.NodeID]*Memory)}
}

func (s *Switch) attach(node types.NodeID, m *Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node] = m
}

func (s *Switch) detach(node types.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, node)
}

func (s *Switch) deliver(node types.NodeID, from types.NodeID, channel types.Channel, payload []byte) error {
	s.mu.Lock()
	dst, ok := s.nodes[node]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("fabric: no such node %s", node)
	}
	dst.receive(from, channel, payload)
	return nil
}

// Memory is an in-memory Fabric implementation for deterministic,
// network-free tests of the originator/responder state machines.
type Memory struct {
	self   types.NodeID
	sw     *Switch
	pool   *pool
	mu     sync.Mutex
	closed bool

	handlers map[types.Channel]func(types.NodeID, *types.FabricMessage)
}

// NewMemoryFabric attaches a new node named self to sw.
func NewMemoryFabric(sw *Switch, self types.NodeID) *Memory {
	m := &Memory{
		self:     self,
		sw:       sw,
		pool:     newPool(),
		handlers: make(map[types.Channel]func(types.NodeID, *types.FabricMessage)),
	}
	sw.attach(self, m)
	return m
}

func (m *Memory) MessageGet() *types.FabricMessage   { return m.pool.get() }
func (m *Memory) MessagePut(msg *types.FabricMessage) { m.pool.put(msg) }

func (m *Memory) Send(ctx context.Context, node types.NodeID, msg *types.FabricMessage, channel types.Channel) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return m.sw.deliver(node, m.self, channel, append([]byte(nil), msg.Payload...))
}

func (m *Memory) Register(channel types.Channel, handler func(types.NodeID, *types.FabricMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[channel] = handler
}

func (m *Memory) receive(from types.NodeID, channel types.Channel, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[channel]
	closed := m.closed
	m.mu.Unlock()
	if closed || !ok {
		return
	}
	msg := m.pool.get()
	msg.Payload = payload
	handler(from, msg)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.sw.detach(m.self)
	return nil
}
