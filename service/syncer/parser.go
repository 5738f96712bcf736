package syncer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/walletforge/walletforge/service/wallet"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.TokenProgramID

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.Token2022ProgramID
)

// System Program instruction types
const (
	systemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	tokenProgramTransferInstruction        = uint8(3)
	tokenProgramTransferCheckedInstruction = uint8(12)
)

// signatureToRecord converts an RPC TransactionSignature to a cached record.
// Only metadata from the signature list is available here; amount and
// counterparties require fetching the full transaction separately.
func signatureToRecord(sig *rpc.TransactionSignature) wallet.TransactionRecord {
	rec := wallet.TransactionRecord{
		Signature: sig.Signature.String(),
		Slot:      sig.Slot,
	}

	if sig.BlockTime != nil {
		rec.BlockTime = sig.BlockTime.Time()
	} else {
		rec.BlockTime = time.Time{}
	}

	switch {
	case sig.Err != nil:
		rec.Status = wallet.TxFailed
	case sig.ConfirmationStatus == rpc.ConfirmationStatusConfirmed,
		sig.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		rec.Status = wallet.TxConfirmed
	default:
		rec.Status = wallet.TxPending
	}

	return rec
}

// enrichRecord fills amount, token mint and counterparties from full
// transaction details. Parse failures leave the metadata-only record as is.
func enrichRecord(owner solana.PublicKey, rec *wallet.TransactionRecord, result *rpc.GetTransactionResult) error {
	if result == nil {
		return nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	seen := make(map[string]struct{})
	addCounterparty := func(pk solana.PublicKey) {
		if pk.Equals(owner) || pk.IsZero() {
			return
		}
		key := pk.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		rec.Counterparties = append(rec.Counterparties, key)
	}

	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		// Native SOL transfers
		if programID.Equals(SystemProgramID) {
			amount, parties, err := parseSystemTransfer(instruction, accountKeys)
			if err == nil {
				rec.Amount = amount
				for _, p := range parties {
					addCounterparty(p)
				}
				// token mint stays nil for SOL
			}
		}

		// SPL token transfers
		if programID.Equals(TokenProgramID) || programID.Equals(Token2022ProgramID) {
			amount, mint, authority, err := parseTokenTransfer(instruction, accountKeys)
			if err == nil {
				rec.Amount = amount
				if !mint.IsZero() {
					mintStr := mint.String()
					rec.TokenMint = &mintStr
				}
				if authority != nil {
					addCounterparty(*authority)
				}
			}
		}
	}

	return nil
}

// parseSystemTransfer extracts the amount and involved accounts from a
// System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, []solana.PublicKey, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)

	if len(instruction.Data) < 12 {
		return 0, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != systemProgramTransferInstruction {
		return 0, nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])

	// System Transfer accounts: [from, to]
	parties := make([]solana.PublicKey, 0, 2)
	for _, idx := range instruction.Accounts {
		if int(idx) < len(accountKeys) {
			parties = append(parties, accountKeys[idx])
		}
	}

	return amount, parties, nil
}

// parseTokenTransfer extracts amount, token mint, and signing authority from
// an SPL Token transfer instruction.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (amount uint64, mint solana.PublicKey, authority *solana.PublicKey, err error) {
	if len(instruction.Data) == 0 {
		return 0, solana.PublicKey{}, nil, fmt.Errorf("empty instruction data")
	}

	instructionType := instruction.Data[0]

	switch instructionType {
	case tokenProgramTransferInstruction:
		// Transfer instruction format:
		// [0]     = instruction type (u8, 3 = Transfer)
		// [1..9]  = amount (u64)
		if len(instruction.Data) < 9 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transfer instruction data too short")
		}
		amount = binary.LittleEndian.Uint64(instruction.Data[1:9])

		// Account layout for Transfer: [source, destination, authority].
		// Source is a token account, not the wallet owner, so no mint or
		// authority can be resolved without extra lookups.
		return amount, solana.PublicKey{}, nil, nil

	case tokenProgramTransferCheckedInstruction:
		// TransferChecked instruction format:
		// [0]      = instruction type (u8, 12 = TransferChecked)
		// [1..9]   = amount (u64)
		// [9]      = decimals (u8)
		if len(instruction.Data) < 10 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked instruction data too short")
		}
		amount = binary.LittleEndian.Uint64(instruction.Data[1:9])

		// Account layout: [source_token_account, mint, destination_token_account, authority, ...]
		if len(instruction.Accounts) < 4 {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("transferChecked missing accounts")
		}

		mintAccountIndex := instruction.Accounts[1]
		if int(mintAccountIndex) >= len(accountKeys) {
			return 0, solana.PublicKey{}, nil, fmt.Errorf("mint account index out of bounds")
		}
		mint = accountKeys[mintAccountIndex]

		authorityIndex := instruction.Accounts[3]
		if int(authorityIndex) < len(accountKeys) {
			addr := accountKeys[authorityIndex]
			authority = &addr
		}

		return amount, mint, authority, nil

	default:
		return 0, solana.PublicKey{}, nil, fmt.Errorf("unknown token instruction type: %d", instructionType)
	}
}

// parsedTokenAccount mirrors the jsonParsed encoding of an SPL token account.
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			TokenAmount struct {
				Amount   string  `json:"amount"`
				Decimals uint8   `json:"decimals"`
				UIAmount float64 `json:"uiAmount"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// parseTokenAccountAmount extracts the raw amount, decimals and UI amount
// from a jsonParsed token account.
func parseTokenAccountAmount(data *rpc.DataBytesOrJSON) (amount uint64, decimals uint8, uiAmount float64, err error) {
	if data == nil {
		return 0, 0, 0, fmt.Errorf("missing account data")
	}
	raw := data.GetRawJSON()
	if len(raw) == 0 {
		return 0, 0, 0, fmt.Errorf("empty account data")
	}

	var acc parsedTokenAccount
	if err := json.Unmarshal(raw, &acc); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to parse token account: %w", err)
	}

	var parsed uint64
	if _, err := fmt.Sscanf(acc.Parsed.Info.TokenAmount.Amount, "%d", &parsed); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid token amount %q: %w", acc.Parsed.Info.TokenAmount.Amount, err)
	}

	return parsed, acc.Parsed.Info.TokenAmount.Decimals, acc.Parsed.Info.TokenAmount.UIAmount, nil
}
