package txbuilder

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	apperrors "github.com/swap-cycler/internal/errors"
)

// RoutedInstructions decodes an aggregator swap transaction and returns its
// swap instructions. Compute budget and token account setup are dropped since
// the builder emits its own.
func RoutedInstructions(blob string) ([]solana.Instruction, error) {
	tx, err := solana.TransactionFromBase64(blob)
	if err != nil {
		return nil, apperrors.NewAggregatorError("swap", 200, fmt.Errorf("decode swap transaction: %w", err))
	}
	msg := &tx.Message
	if msg.IsVersioned() && msg.NumLookups() > 0 {
		return nil, apperrors.NewConfigurationError("AGGREGATOR_LOOKUP_TABLES", "aggregator returned a transaction with address lookup tables")
	}

	var out []solana.Instruction
	for i := range msg.Instructions {
		ci := &msg.Instructions[i]
		program, err := msg.Program(ci.ProgramIDIndex)
		if err != nil {
			return nil, apperrors.NewAggregatorError("swap", 200, fmt.Errorf("instruction %d program: %w", i, err))
		}
		if program.Equals(solana.ComputeBudget) || program.Equals(solana.SPLAssociatedTokenAccountProgramID) {
			continue
		}
		accounts, err := ci.ResolveInstructionAccounts(msg)
		if err != nil {
			return nil, apperrors.NewAggregatorError("swap", 200, fmt.Errorf("instruction %d accounts: %w", i, err))
		}
		out = append(out, solana.NewInstruction(program, accounts, ci.Data))
	}
	if len(out) == 0 {
		return nil, apperrors.NewAggregatorError("swap", 200, fmt.Errorf("swap transaction has no swap instruction"))
	}
	return out, nil
}
