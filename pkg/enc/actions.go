package enc

import (
	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/llcp"
)

// BuildEncReq builds the master's LL_ENC_REQ from its key identifiers and vectors.
func BuildEncReq(ltk conn.LongTermKey, local conn.Vectors) *llcp.EncReq {
	return &llcp.EncReq{
		Rand: ltk.Rand,
		EDIV: ltk.EDIV,
		SKDm: local.SKD,
		IVm:  local.IV,
	}
}

// BuildEncRsp builds the slave's LL_ENC_RSP.
func BuildEncRsp(local conn.Vectors) *llcp.EncRsp {
	return &llcp.EncRsp{
		SKDs: local.SKD,
		IVs:  local.IV,
	}
}

// PeerVectors extracts the peer's vector half from LL_ENC_REQ or LL_ENC_RSP.
func PeerVectors(p llcp.PDU) (conn.Vectors, error) {
	switch m := p.(type) {
	case *llcp.EncReq:
		return conn.Vectors{SKD: m.SKDm, IV: m.IVm}, nil
	case *llcp.EncRsp:
		return conn.Vectors{SKD: m.SKDs, IV: m.IVs}, nil
	default:
		return conn.Vectors{}, ErrNoVectors
	}
}
