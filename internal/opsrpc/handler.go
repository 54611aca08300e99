package opsrpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolchain/relay/betmachine"
	"github.com/tolchain/relay/relayer"
	"github.com/tolchain/relay/storage"
	"github.com/tolchain/relay/vault"
)

// Handler holds the read-only dependencies needed to serve ops RPC methods.
// It never reaches into the relayer's broadcast path or the state machine's
// mutating methods — every method here is a pure read.
type Handler struct {
	machine *betmachine.Machine
	vault   *vault.Vault
	store   *storage.MirrorStore
	relay   *relayer.Relayer
}

// NewHandler creates a Handler.
func NewHandler(machine *betmachine.Machine, v *vault.Vault, store *storage.MirrorStore, r *relayer.Relayer) *Handler {
	return &Handler{machine: machine, vault: v, store: store, relay: r}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBetStatus":
		return h.getBetStatus(req)
	case "getVaultBalance":
		return h.getVaultBalance(req)
	case "getJackpotPool":
		return h.getJackpotPool(req)
	case "getRelayerSequence":
		return h.getRelayerSequence(req)
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBetStatus(req Request) Response {
	var params struct {
		BetID uint64 `json:"bet_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	bet, err := h.machine.GetBet(params.BetID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, bet)
}

func (h *Handler) getVaultBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	available, locked, total, err := h.vault.EffectiveBalance(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"address":   params.Address,
		"available": available.String(),
		"locked":    locked.String(),
		"total":     total.String(),
	})
}

func (h *Handler) getJackpotPool(req Request) Response {
	var params struct {
		TierID string `json:"tier_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.TierID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tier_id is required")
	}
	pool, err := h.store.GetPool(params.TierID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, pool)
}

func (h *Handler) getRelayerSequence(req Request) Response {
	state, ok := h.relay.CachedSequence()
	if !ok {
		return okResponse(req.ID, map[string]any{"address": h.relay.Address(), "known": false})
	}
	return okResponse(req.ID, map[string]any{
		"address":        h.relay.Address(),
		"known":          true,
		"account_number": state.AccountNumber,
		"sequence":       state.Sequence,
	})
}
