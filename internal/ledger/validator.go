package ledger

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/metrics"
	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// BlockLister is the read side of the ledger.
type BlockLister interface {
	List(ctx context.Context) ([]models.Block, error)
}

// Validator re-derives every hash, Merkle root and link in the chain. It
// only reads; findings are reported, never repaired.
type Validator struct {
	blocks  BlockLister
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewValidator(blocks BlockLister, logger *slog.Logger, m *metrics.Metrics) *Validator {
	return &Validator{
		blocks:  blocks,
		logger:  logger,
		metrics: m,
	}
}

func (v *Validator) Validate(ctx context.Context) (*models.ValidationReport, error) {
	blocks, err := v.blocks.List(ctx)
	if err != nil {
		return nil, err
	}

	report := Check(blocks)
	if !report.Valid {
		failed := 0
		for _, r := range report.Results {
			if !r.Valid {
				failed++
				v.logger.Warn("ledger block failed validation",
					"block_index", r.Index,
					"hash_valid", r.HashValid,
					"merkle_valid", r.MerkleValid,
					"link_valid", r.LinkValid,
				)
			}
		}
		v.metrics.AddValidationFailures(failed)
	}
	return report, nil
}

// Check validates an in-memory chain. Each block is compared against the
// recomputed hash of its predecessor, not the predecessor's stored hash, so
// a rewritten block also breaks the link of the block after it.
func Check(blocks []models.Block) *models.ValidationReport {
	report := &models.ValidationReport{
		Valid:         true,
		BlocksChecked: len(blocks),
		Results:       make([]models.BlockValidationResult, 0, len(blocks)),
	}

	var previous string
	for i, b := range blocks {
		calculated := BlockHash(b)
		result := models.BlockValidationResult{
			Index:          b.Index,
			HashValid:      calculated == b.Hash,
			MerkleValid:    MerkleRoot(b.Transactions) == b.MerkleRoot,
			LinkValid:      true,
			StoredHash:     b.Hash,
			CalculatedHash: calculated,
		}
		if i > 0 {
			result.LinkValid = b.PreviousHash == previous
		} else {
			result.LinkValid = b.PreviousHash == GenesisPreviousHash
		}
		result.Valid = result.HashValid && result.MerkleValid && result.LinkValid
		if !result.Valid {
			report.Valid = false
		}

		report.Results = append(report.Results, result)
		previous = calculated
	}

	if report.Valid {
		report.Message = "Blockchain is valid"
	} else {
		report.Message = "Blockchain tampering detected"
	}
	return report
}

// IntegrityErrors converts the failed checks of a report into errors.
// It returns nil for a valid report.
func IntegrityErrors(report *models.ValidationReport) error {
	var errs []error
	for _, r := range report.Results {
		if !r.HashValid {
			errs = append(errs, errors.NewIntegrityError(r.Index, "hash"))
		}
		if !r.MerkleValid {
			errs = append(errs, errors.NewIntegrityError(r.Index, "merkle root"))
		}
		if !r.LinkValid {
			errs = append(errs, errors.NewIntegrityError(r.Index, "previous hash"))
		}
	}
	return stderrors.Join(errs...)
}
