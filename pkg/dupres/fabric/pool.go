package fabric

import (
	"sync"

	"github.com/jabolina/dupres/pkg/dupres/types"
)

// pool backs MessageGet/MessagePut: every FabricMessage handed out is
// either returned here or stored by whichever component received it,
// never both (§4.2, §9 "message ownership discipline").
type pool struct {
	sync.Pool
}

func newPool() *pool {
	return &pool{
		Pool: sync.Pool{
			New: func() interface{} {
				return &types.FabricMessage{}
			},
		},
	}
}

func (p *pool) get() *types.FabricMessage {
	return p.Pool.Get().(*types.FabricMessage)
}

func (p *pool) put(msg *types.FabricMessage) {
	if msg == nil {
		return
	}
	msg.Payload = nil
	p.Pool.Put(msg)
}
