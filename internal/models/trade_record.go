package models

import (
	"time"
)

// Trade ledger statuses
const (
	TradeConfirmed = "confirmed"
	TradeFailed    = "failed"
)

// TradeRecord is one submitted trade stored in ClickHouse
type TradeRecord struct {
	TradeID     string    `json:"tradeId" ch:"trade_id"`
	JobID       string    `json:"jobId" ch:"job_id"`
	TaskID      string    `json:"taskId" ch:"task_id"`
	Side        string    `json:"side" ch:"side"`
	DexID       string    `json:"dexId" ch:"dex_id"`
	InputMint   string    `json:"inputMint" ch:"input_mint"`
	OutputMint  string    `json:"outputMint" ch:"output_mint"`
	InAmount    uint64    `json:"inAmount" ch:"in_amount"`
	OutAmount   uint64    `json:"outAmount" ch:"out_amount"`
	MinOut      uint64    `json:"minOut" ch:"min_out"`
	AdminFee    uint64    `json:"adminFee" ch:"admin_fee"`
	ReferralFee uint64    `json:"referralFee" ch:"referral_fee"`
	Signer      string    `json:"signer" ch:"signer"`
	Signature   string    `json:"signature" ch:"signature"`
	Status      string    `json:"status" ch:"status"`
	ChainError  string    `json:"chainError" ch:"chain_error"`
	ExecutedAt  time.Time `json:"executedAt" ch:"executed_at"`
}
