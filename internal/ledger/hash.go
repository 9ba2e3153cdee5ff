package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// GenesisPreviousHash is the previous_hash of block 0.
var GenesisPreviousHash = strings.Repeat("0", 64)

// EmptyMerkleRoot is the root of a block without transactions: the SHA-256
// of the empty string.
var EmptyMerkleRoot = hashHex(nil)

// canonicalTransaction fixes the field order and encodings a transaction is
// hashed with. Amounts always carry two fractional digits and times are UTC.
type canonicalTransaction struct {
	ID       string `json:"id"`
	Sender   string `json:"sender_account"`
	Receiver string `json:"receiver_account"`
	Amount   string `json:"amount"`
	Remarks  string `json:"remarks"`
	Status   string `json:"status"`
	Channel  string `json:"channel"`
	Created  string `json:"created_at"`
}

type canonicalHeader struct {
	Index        int64  `json:"index"`
	PreviousHash string `json:"previous_hash"`
	MerkleRoot   string `json:"merkle_root"`
	Timestamp    string `json:"timestamp"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// mustMarshal only ever sees structs of strings and ints.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// SerializeTransaction returns the byte form a transaction is hashed over.
func SerializeTransaction(t models.Transaction) []byte {
	return mustMarshal(canonicalTransaction{
		ID:       t.ID,
		Sender:   t.SenderAccount,
		Receiver: t.ReceiverAccount,
		Amount:   t.Amount.StringFixed(2),
		Remarks:  t.Remarks,
		Status:   string(t.Status),
		Channel:  string(t.Channel),
		Created:  formatTime(t.CreatedAt),
	})
}

func HashTransaction(t models.Transaction) string {
	return hashHex(SerializeTransaction(t))
}

// MerkleRoot hashes transactions pairwise, bottom-up. A level with an odd
// number of hashes duplicates its last hash.
func MerkleRoot(txns []models.Transaction) string {
	if len(txns) == 0 {
		return EmptyMerkleRoot
	}

	level := make([]string, len(txns))
	for i, t := range txns {
		level[i] = HashTransaction(t)
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashHex([]byte(level[i]+level[i+1])))
		}
		level = next
	}
	return level[0]
}

// BlockHash depends only on the header fields. Transactions reach the hash
// through the Merkle root.
func BlockHash(b models.Block) string {
	return hashHex(mustMarshal(canonicalHeader{
		Index:        b.Index,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
		Timestamp:    formatTime(b.Timestamp),
	}))
}

// Seal builds a block with its Merkle root and hash filled in.
func Seal(index int64, previousHash string, timestamp time.Time, txns []models.Transaction) models.Block {
	b := models.Block{
		Index:        index,
		Timestamp:    timestamp.UTC(),
		Transactions: txns,
		PreviousHash: previousHash,
	}
	b.MerkleRoot = MerkleRoot(txns)
	b.Hash = BlockHash(b)
	return b
}
