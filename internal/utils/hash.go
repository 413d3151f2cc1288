package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// IdempotencyKey derives the conversion dedupe key for a provider
// transaction and vendor.
func IdempotencyKey(transactionID, vendorID string) string {
	sum := sha256.Sum256([]byte(transactionID + ":" + vendorID))
	return hex.EncodeToString(sum[:])
}
