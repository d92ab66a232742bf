// services/payment-gateway/internal/service/signature.go
package service

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"

	"globalpay/services/payment-gateway/internal/models"
)

// SignatureVerifier checks Click webhook signatures.
//
// Click signs callbacks with MD5 over the concatenated fields and the shared
// secret. MD5 is not collision resistant; the scheme is fixed by the
// processor and the secret is the only thing keeping forgeries out.
type SignatureVerifier struct {
	secretKey string
}

func NewSignatureVerifier(secretKey string) *SignatureVerifier {
	return &SignatureVerifier{secretKey: secretKey}
}

// Sign returns the lowercase hex signature Click would send for cb.
// merchant_prepare_id is empty on Prepare.
func (v *SignatureVerifier) Sign(cb *models.ClickCallback) string {
	var b strings.Builder
	b.WriteString(cb.ClickTransID)
	b.WriteString(cb.ServiceID)
	b.WriteString(v.secretKey)
	b.WriteString(cb.MerchantTransID)
	b.WriteString(cb.MerchantPrepareID)
	b.WriteString(cb.Amount)
	b.WriteString(strconv.Itoa(int(cb.Action)))
	b.WriteString(cb.SignTime)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether cb carries a valid signature. The comparison is
// constant time and accepts either hex case.
func (v *SignatureVerifier) Verify(cb *models.ClickCallback) bool {
	if cb == nil || cb.SignString == "" || v.secretKey == "" {
		return false
	}
	expected := v.Sign(cb)
	given := strings.ToLower(cb.SignString)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}
