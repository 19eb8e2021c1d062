package rpc

import (
	"net/http"
	"strings"

	"ponzirep/indexer"
)

const codeIndexDisabled = -32026

type listOffersParams struct {
	Creator string `json:"creator,omitempty"`
	Status  string `json:"status,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

type IndexedOfferJSON struct {
	Position       uint64 `json:"position"`
	ID             string `json:"id"`
	Creator        string `json:"creator"`
	Nonce          uint64 `json:"nonce"`
	EscrowedAmount string `json:"escrowedAmount"`
	QuotedPrice    string `json:"quotedPrice"`
	Status         string `json:"status"`
	Counterparty   string `json:"counterparty,omitempty"`
}

type TransferJSON struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) indexEnabled(w http.ResponseWriter, req *RPCRequest) bool {
	if s.cfg.Index == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeIndexDisabled, "offer index not enabled", nil)
		return false
	}
	return true
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.indexEnabled(w, req) {
		return
	}
	var params listOffersParams
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid filter", err.Error())
			return
		}
	}
	filter := indexer.Filter{Status: strings.TrimSpace(params.Status), Limit: params.Limit, Offset: params.Offset}
	if strings.TrimSpace(params.Creator) != "" {
		creator, err := parseAddress(params.Creator)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator", err.Error())
			return
		}
		filter.Creator = creator.Hex()
	}
	rows, err := s.cfg.Index.Offers(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "offer index query failed", err.Error())
		return
	}
	out := make([]IndexedOfferJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, IndexedOfferJSON{
			Position:       row.Position,
			ID:             row.ID,
			Creator:        row.Creator,
			Nonce:          row.Nonce,
			EscrowedAmount: row.EscrowedAmount,
			QuotedPrice:    row.QuotedPrice,
			Status:         row.Status,
			Counterparty:   row.Counterparty,
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleOfferTransfers(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.indexEnabled(w, req) {
		return
	}
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
	rows, err := s.cfg.Index.Transfers(r.Context(), id.Hex())
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "offer index query failed", err.Error())
		return
	}
	out := make([]TransferJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, TransferJSON{From: row.Sender, To: row.Recipient, Amount: row.Amount, Reason: row.Reason})
	}
	writeResult(w, req.ID, out)
}
