package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"ponzirep/native/escrow"
	"ponzirep/native/governance"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

func (s *Server) writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	status, code, message := http.StatusInternalServerError, codeEscrowInternal, "internal_error"
	switch {
	case errors.Is(err, escrow.ErrValueMismatch),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidSignature),
		errors.Is(err, governance.ErrZeroAddress):
		status, code, message = http.StatusBadRequest, codeEscrowInvalidParams, "invalid_params"
	case errors.Is(err, escrow.ErrOfferNotFound):
		status, code, message = http.StatusNotFound, codeEscrowNotFound, "not_found"
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, escrow.ErrSignerMismatch),
		errors.Is(err, escrow.ErrSameSigner),
		errors.Is(err, governance.ErrUnauthorized):
		status, code, message = http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrOfferExists),
		errors.Is(err, escrow.ErrInsufficientBalance),
		errors.Is(err, escrow.ErrValueRejected),
		errors.Is(err, governance.ErrAlreadyBound):
		status, code, message = http.StatusConflict, codeEscrowConflict, "conflict"
	}
	writeError(w, status, id, code, message, err.Error())
}

func (s *Server) handleCreateTradeOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params createTradeOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	value, err := parseAmount("value", params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount("escrowedAmount", params.EscrowedAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parseAmount("quotedPrice", params.QuotedPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	offer, count, err := s.node.CreateTradeOffer(r.Context(), req.caller, value, amount, price)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, CreateTradeOfferResult{Offer: offerToJSON(offer), TradesCount: count})
}

func (s *Server) handleFinaliseTrade(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params finaliseTradeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseAddress(params.OfferCreator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	creatorSig, err := parseSignature("creatorSignature", params.CreatorSignature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	counterpartySig, err := parseSignature("counterpartySignature", params.CounterpartySignature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	offer, err := s.node.FinaliseTrade(r.Context(), creator, params.OfferCreatorNonce, creatorSig, counterpartySig)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerToJSON(offer))
}

func (s *Server) handleWithdrawTradeOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params withdrawTradeOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	offer, err := s.node.WithdrawTradeOffer(r.Context(), req.caller, params.Nonce)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerToJSON(offer))
}

func (s *Server) handleNonces(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	raw, err := decodeStringParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address parameter required", err.Error())
		return
	}
	addr, err := parseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address parameter", err.Error())
		return
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, nonce)
}

func (s *Server) handleGetTradesCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	count, err := s.node.TradesCount()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, count)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	ids, err := s.node.Trades()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleTradeOffers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	raw, err := decodeStringParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "offer id parameter required", err.Error())
		return
	}
	id, err := parseHash(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid offer id", err.Error())
		return
	}
	offer, _, err := s.node.TradeOffer(id)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerToJSON(offer))
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	raw, err := decodeStringParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "offer id parameter required", err.Error())
		return
	}
	id, err := parseHash(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid offer id", err.Error())
		return
	}
	held, err := s.node.EscrowBalance(id)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, amountString(held))
}

func (s *Server) handleDomain(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	domain := s.node.Domain()
	sep, err := escrow.DomainSeparator(domain)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, DomainJSON{
		Name:              domain.Name,
		Version:           domain.Version,
		ChainID:           domain.ChainID.String(),
		VerifyingContract: domain.VerifyingContract.Hex(),
		Separator:         sep.Hex(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var from int64
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &from); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "from must be an integer", err.Error())
			return
		}
	}
	writeResult(w, req.ID, s.node.Events(from))
}

func (s *Server) handleBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	raw, err := decodeStringParam(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address parameter required", err.Error())
		return
	}
	addr, err := parseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address parameter", err.Error())
		return
	}
	bal, err := s.node.Balance(addr)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON(addr, bal))
}

func (s *Server) handleHead(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	height, root := s.node.Head()
	writeResult(w, req.ID, HeadJSON{Height: height, Root: root.Hex()})
}

func (s *Server) handleToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	token, err := s.node.Token()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	if token == nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "token not registered", nil)
		return
	}
	founders := make([]string, 0, len(token.Founders))
	for _, f := range token.Founders {
		founders = append(founders, f.Hex())
	}
	writeResult(w, req.ID, TokenJSON{
		Name:     token.Name,
		Symbol:   token.Symbol,
		Owner:    token.Owner.Hex(),
		Founders: founders,
		Contract: s.node.Contract().Hex(),
	})
}
