package rpc

import (
	"net/http"
)

func (s *Server) handleSetGovernance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setGovernanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.SetGovernance(r.Context(), req.caller, addr); err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	s.handleGovernance(w, nil, req)
}

func (s *Server) handleGovernance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, bound, err := s.node.Governance()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	out := GovernanceJSON{Bound: bound, Owner: s.node.Owner().Hex()}
	if bound {
		out.Address = addr.Hex()
	}
	writeResult(w, req.ID, out)
}
