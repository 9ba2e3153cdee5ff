package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ExternalAccount is the sender recorded for deposits, which enter the
// ledger from outside the bank.
const ExternalAccount = "EXTERNAL"

type Account struct {
	AccountNumber string          `json:"account_number"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	Email         string          `json:"email"`
	Balance       decimal.Decimal `json:"balance"`
	PINHash       string          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	LastLogin     *time.Time      `json:"last_login,omitempty"`
}

// FaceRegistration binds a sealed face embedding, a spending limit and a
// dedicated PIN to one account.
type FaceRegistration struct {
	AccountNumber   string          `json:"account_number"`
	SealedEmbedding []byte          `json:"-"`
	PaymentLimit    decimal.Decimal `json:"payment_limit"`
	PINHash         string          `json:"-"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

type Channel string

const (
	ChannelTransfer Channel = "transfer"
	ChannelDeposit  Channel = "deposit"
	ChannelFacePay  Channel = "facepay"
)

type Transaction struct {
	ID              string            `json:"id"`
	SenderAccount   string            `json:"sender_account"`
	ReceiverAccount string            `json:"receiver_account"`
	Amount          decimal.Decimal   `json:"amount"`
	Remarks         string            `json:"remarks"`
	Status          TransactionStatus `json:"status"`
	Channel         Channel           `json:"channel"`
	CreatedAt       time.Time         `json:"created_at"`
}

type Block struct {
	Index        int64         `json:"index"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previous_hash"`
	MerkleRoot   string        `json:"merkle_root"`
	Hash         string        `json:"hash"`
}

type SessionState string

// SETTLING holds a reserved transaction id while the payment is posted. A
// session leaves it only once the posting outcome is known.
const (
	SessionInitiated        SessionState = "INITIATED"
	SessionAmountConfirmed  SessionState = "AMOUNT_CONFIRMED"
	SessionCustomerVerified SessionState = "CUSTOMER_VERIFIED"
	SessionFaceVerified     SessionState = "FACE_VERIFIED"
	SessionSettling         SessionState = "SETTLING"
	SessionSettled          SessionState = "SETTLED"
	SessionCancelled        SessionState = "CANCELLED"
	SessionExpired          SessionState = "EXPIRED"
	SessionFailed           SessionState = "FAILED"
)

// Terminal reports whether no further transition is accepted from s.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionSettled, SessionCancelled, SessionExpired, SessionFailed:
		return true
	}
	return false
}

// FacePaySession is owned by the FacePay service. The captured face sample
// and its embedding are never stored here; only the resulting score is.
type FacePaySession struct {
	ID              string          `json:"id"`
	VendorAccount   string          `json:"vendor_account"`
	Amount          decimal.Decimal `json:"amount"`
	State           SessionState    `json:"state"`
	CustomerAccount string          `json:"customer_account,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	SimilarityScore float64         `json:"similarity_score,omitempty"`
	PhoneAttempts   int             `json:"phone_attempts"`
	FaceAttempts    int             `json:"face_attempts"`
	PINAttempts     int             `json:"pin_attempts"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type AuditLog struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	OldValue   json.RawMessage `json:"old_value"`
	NewValue   json.RawMessage `json:"new_value"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	AuditActionCreate     = "CREATE"
	AuditActionDebit      = "DEBIT"
	AuditActionCredit     = "CREDIT"
	AuditActionRegister   = "FACEPAY_REGISTER"
	AuditActionToggle     = "FACEPAY_TOGGLE"
	AuditActionFraudBlock = "FACEPAY_FRAUD_BLOCK"
)

const (
	EntityTypeAccount          = "ACCOUNT"
	EntityTypeFaceRegistration = "FACE_REGISTRATION"
)

type AccountBalanceSnapshot struct {
	AccountNumber string `json:"account_number"`
	Balance       string `json:"balance"`
}

type FaceRegistrationSnapshot struct {
	AccountNumber string `json:"account_number"`
	PaymentLimit  string `json:"payment_limit"`
	IsActive      bool   `json:"is_active"`
}
