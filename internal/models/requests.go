package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RegisterAccountRequest struct {
	Name           string          `json:"name"`
	Phone          string          `json:"phone"`
	Email          string          `json:"email"`
	AccountNumber  string          `json:"account_number"`
	PIN            string          `json:"pin"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type LoginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

type AuthResponse struct {
	AccountNumber string `json:"account_number"`
	Name          string `json:"name"`
	Token         string `json:"token"`
}

type AccountResponse struct {
	AccountNumber string `json:"account_number"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Balance       string `json:"balance"`
}

type DepositRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Remarks string          `json:"remarks"`
}

type TransferRequest struct {
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Remarks     string          `json:"remarks"`
}

type TransferResponse struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    string `json:"new_balance"`
}

type TransactionResponse struct {
	ID              string    `json:"id"`
	SenderAccount   string    `json:"sender_account"`
	ReceiverAccount string    `json:"receiver_account"`
	Amount          string    `json:"amount"`
	Remarks         string    `json:"remarks"`
	Status          string    `json:"status"`
	Channel         string    `json:"channel"`
	CreatedAt       time.Time `json:"created_at"`
}

type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

type AuditTrailResponse struct {
	Entries []*AuditLog `json:"entries"`
}

type InitiateFacePayRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type InitiateFacePayResponse struct {
	SessionID string    `json:"session_id"`
	Amount    string    `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ConfirmAmountRequest struct {
	SessionID string `json:"session_id"`
	Confirmed bool   `json:"confirmed"`
}

type SessionStatusResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type VerifyPhoneRequest struct {
	SessionID     string `json:"session_id"`
	CustomerPhone string `json:"customer_phone"`
}

type VerifyPhoneResponse struct {
	SessionID    string `json:"session_id"`
	CustomerName string `json:"customer_name"`
}

type VerifyFaceRequest struct {
	SessionID string `json:"session_id"`
	FaceImage string `json:"face_image"`
}

type VerifyFaceResponse struct {
	SessionID       string  `json:"session_id"`
	SimilarityScore float64 `json:"similarity_score"`
}

type VerifyPINRequest struct {
	SessionID string `json:"session_id"`
	PIN       string `json:"pin"`
}

type VerifyPINResponse struct {
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	CustomerName  string `json:"customer_name"`
}

type ReportFraudRequest struct {
	SessionID string `json:"session_id"`
}

type SessionResponse struct {
	SessionID       string    `json:"session_id"`
	State           string    `json:"state"`
	Amount          string    `json:"amount"`
	CustomerName    string    `json:"customer_name,omitempty"`
	SimilarityScore float64   `json:"similarity_score,omitempty"`
	TransactionID   string    `json:"transaction_id,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type FacePayRegisterRequest struct {
	ImageBase64  string          `json:"image_base64"`
	FacePayLimit decimal.Decimal `json:"facepay_limit"`
	PIN          string          `json:"pin"`
}

type FacePayRegisterResponse struct {
	Success      bool   `json:"success"`
	FacePayLimit string `json:"facepay_limit"`
}

type FacePayToggleRequest struct {
	Status bool `json:"status"`
}

type FacePayToggleResponse struct {
	Success  bool `json:"success"`
	IsActive bool `json:"is_active"`
}

type FacePayStatusResponse struct {
	Registered   bool    `json:"registered"`
	IsActive     bool    `json:"is_active"`
	FacePayLimit *string `json:"facepay_limit"`
}

type BlockResponse struct {
	Index        int64                 `json:"index"`
	Hash         string                `json:"hash"`
	PreviousHash string                `json:"previous_hash"`
	MerkleRoot   string                `json:"merkle_root"`
	Timestamp    time.Time             `json:"timestamp"`
	Transactions []TransactionResponse `json:"transactions"`
}

type BlockListResponse struct {
	Blocks []BlockResponse `json:"blocks"`
}

type BlockValidationResult struct {
	Index          int64  `json:"index"`
	HashValid      bool   `json:"hash_valid"`
	MerkleValid    bool   `json:"merkle_valid"`
	LinkValid      bool   `json:"link_valid"`
	Valid          bool   `json:"valid"`
	StoredHash     string `json:"stored_hash"`
	CalculatedHash string `json:"calculated_hash"`
}

type ValidationReport struct {
	Valid         bool                    `json:"valid"`
	BlocksChecked int                     `json:"blocks_checked"`
	Results       []BlockValidationResult `json:"results"`
	Message       string                  `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewTransactionResponse renders amounts with two fractional digits.
func NewTransactionResponse(t Transaction) TransactionResponse {
	return TransactionResponse{
		ID:              t.ID,
		SenderAccount:   t.SenderAccount,
		ReceiverAccount: t.ReceiverAccount,
		Amount:          t.Amount.StringFixed(2),
		Remarks:         t.Remarks,
		Status:          string(t.Status),
		Channel:         string(t.Channel),
		CreatedAt:       t.CreatedAt,
	}
}
