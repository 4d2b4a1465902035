package rpcserver

import (
	"encoding/json"

	"github.com/subfrost/alkanes-index/internal/modules/pizzafun"
)

// RegisterPizzafun wires the stub third-party module's single method
// under "pizzafun.*".
func RegisterPizzafun(s *Server, m *pizzafun.Module) {
	s.Register("pizzafun", "status", handlePizzafunStatus(m))
}

type pizzafunStatusResponse struct {
	LastHeight uint32 `json:"last_height"`
	BlocksSeen uint64 `json:"blocks_seen"`
}

func handlePizzafunStatus(m *pizzafun.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		st := m.GetStatus()
		return pizzafunStatusResponse{LastHeight: st.LastHeight, BlocksSeen: st.BlocksSeen}, nil
	}
}
