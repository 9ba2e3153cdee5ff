package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/facepay-ledger/internal/models"
	u "github.com/riteshkumar/facepay-ledger/internal/utils"
)

type BlockLister interface {
	List(ctx context.Context) ([]models.Block, error)
}

type ChainValidator interface {
	Validate(ctx context.Context) (*models.ValidationReport, error)
}

type BlockchainHandler struct {
	blocks    BlockLister
	validator ChainValidator
	logger    *slog.Logger
}

func NewBlockchainHandler(blocks BlockLister, validator ChainValidator, logger *slog.Logger) *BlockchainHandler {
	return &BlockchainHandler{
		blocks:    blocks,
		validator: validator,
		logger:    logger,
	}
}

func (h *BlockchainHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/blockchain/blocks", h.ListBlocks).Methods(http.MethodGet)
	router.HandleFunc("/blockchain/validate", h.Validate).Methods(http.MethodGet)
}

func (h *BlockchainHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.blocks.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list blocks")
		return
	}

	resp := models.BlockListResponse{Blocks: make([]models.BlockResponse, 0, len(blocks))}
	for _, b := range blocks {
		txns := make([]models.TransactionResponse, 0, len(b.Transactions))
		for _, t := range b.Transactions {
			txns = append(txns, models.NewTransactionResponse(t))
		}
		resp.Blocks = append(resp.Blocks, models.BlockResponse{
			Index:        b.Index,
			Hash:         b.Hash,
			PreviousHash: b.PreviousHash,
			MerkleRoot:   b.MerkleRoot,
			Timestamp:    b.Timestamp,
			Transactions: txns,
		})
	}
	u.WriteJSON(w, http.StatusOK, resp)
}

// Validate reports chain integrity. A tampered chain is still a 200; the
// report carries the findings.
func (h *BlockchainHandler) Validate(w http.ResponseWriter, r *http.Request) {
	report, err := h.validator.Validate(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "validate blockchain")
		return
	}
	u.WriteJSON(w, http.StatusOK, report)
}
