// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/blinklabs-io/nodeclient"
	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol/common"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
)

const (
	// Largest transaction accepted by POST /tx
	maxTxSize = 64 * 1024
	// Hex doubles the size, plus room for the rest of the JSON
	maxTxRequestBody = 2*maxTxSize + 1024
)

type TipResponse struct {
	Slot    uint64 `json:"slot"`
	Hash    string `json:"hash"`
	BlockNo uint64 `json:"block_no"`
}

type BlockResponse struct {
	Slot uint64 `json:"slot"`
	Hash string `json:"hash"`
	Era  string `json:"era"`
	Cbor string `json:"cbor"`
}

type EraResponse struct {
	EraId uint   `json:"era_id"`
	Era   string `json:"era"`
}

type UtxoResponse struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type UtxosResponse struct {
	Address string         `json:"address"`
	Utxos   []UtxoResponse `json:"utxos"`
}

type SubmitTxRequest struct {
	// Era ID of the transaction. Conway is assumed when omitted
	Era  *uint16 `json:"era,omitempty"`
	Cbor string  `json:"cbor"`
}

type SubmitTxResponse struct {
	TxId         string   `json:"tx_id"`
	Acknowledged []string `json:"acknowledged"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorStatus maps a client error onto an HTTP status
func errorStatus(err error) int {
	switch {
	case nodeclient.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, nodeclient.ErrProtocolNotAvailable):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case nodeclient.IsFatal(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.config.Logger.Error(
			"request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	tip, err := s.config.Backend.GetTip(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(
		w,
		http.StatusOK,
		TipResponse{
			Slot:    tip.Point.Slot,
			Hash:    hex.EncodeToString(tip.Point.Hash),
			BlockNo: tip.BlockNumber,
		},
	)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slot, err := strconv.ParseUint(vars["slot"], 10, 64)
	if err != nil {
		s.writeBadRequest(w, "invalid slot")
		return
	}
	hash, err := hex.DecodeString(vars["hash"])
	if err != nil {
		s.writeBadRequest(w, "invalid block hash")
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	block, err := s.config.Backend.FetchBlock(ctx, common.NewPoint(slot, hash))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	eraName := ""
	if era, err := ledger.BlockTypeToEra(block.Type); err == nil {
		eraName = era.Name
	}
	writeJSON(
		w,
		http.StatusOK,
		BlockResponse{
			Slot: slot,
			Hash: hex.EncodeToString(hash),
			Era:  eraName,
			Cbor: hex.EncodeToString(block.Cbor),
		},
	)
}

// withVolatileTip runs queryFunc against the ledger state at the volatile tip
func (s *Server) withVolatileTip(ctx context.Context, queryFunc func() error) error {
	s.queryMutex.Lock()
	defer s.queryMutex.Unlock()
	if err := s.config.Backend.Acquire(ctx, nil); err != nil {
		return err
	}
	queryErr := queryFunc()
	if err := s.config.Backend.Release(); err != nil && queryErr == nil {
		return err
	}
	return queryErr
}

func (s *Server) handleEra(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	var eraId uint
	err := s.withVolatileTip(ctx, func() error {
		var err error
		eraId, err = s.config.Backend.CurrentEra(ctx)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := EraResponse{EraId: eraId}
	if era := ledger.GetEraById(uint8(eraId)); era != nil { // #nosec G115
		resp.Era = era.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUtxos(w http.ResponseWriter, r *http.Request) {
	addr, err := ledger.NewAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeBadRequest(w, "invalid address: "+err.Error())
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	var result *localstatequery.UtxoResult
	err = s.withVolatileTip(ctx, func() error {
		var err error
		result, err = s.config.Backend.GetUtxoByAddress(ctx, []ledger.Address{addr})
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := UtxosResponse{
		Address: addr.String(),
		Utxos:   []UtxoResponse{},
	}
	for _, entry := range result.Entries {
		resp.Utxos = append(
			resp.Utxos,
			UtxoResponse{
				Input:  hex.EncodeToString(entry.Input),
				Output: hex.EncodeToString(entry.Output),
			},
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req SubmitTxRequest
	body := http.MaxBytesReader(w, r.Body, maxTxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request payload")
		return
	}
	txCbor, err := hex.DecodeString(req.Cbor)
	if err != nil || len(txCbor) == 0 || len(txCbor) > maxTxSize {
		s.writeBadRequest(w, "invalid transaction CBOR")
		return
	}
	era := uint16(ledger.EraIdConway)
	if req.Era != nil {
		era = *req.Era
	}
	entry, err := ledger.NewMempoolEntry(era, txCbor)
	if err != nil {
		s.writeBadRequest(w, err.Error())
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	acked, err := s.config.Submit(ctx, []ledger.MempoolEntry{entry})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := SubmitTxResponse{
		TxId:         entry.Id.String(),
		Acknowledged: []string{},
	}
	for _, txId := range acked {
		resp.Acknowledged = append(resp.Acknowledged, txId.String())
	}
	s.config.Logger.Info(
		"transaction relayed",
		zap.String("tx_id", resp.TxId),
		zap.Int("acknowledged", len(acked)),
	)
	writeJSON(w, http.StatusOK, resp)
}
