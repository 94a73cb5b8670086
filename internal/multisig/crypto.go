package multisig

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// SigningMessage is the canonical text an owner signs to approve a
// request. Format: "Pactum|{wallet}|{to}|{amount}|{nonce}"
func SigningMessage(walletAddr string, r *Request) string {
	return fmt.Sprintf("Pactum|%s|%s|%s|%d",
		strings.ToLower(walletAddr),
		strings.ToLower(r.To),
		r.Amount,
		r.Nonce,
	)
}

// hashMessage applies the EIP-191 personal-sign prefix before hashing.
func hashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// RecoverSigner recovers the address that produced signatureHex over
// message. The signature must be 65 bytes (r[32] + s[32] + v[1]).
func RecoverSigner(message string, signatureHex string) (string, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")
	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(signature) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	// Wallets emit v = 27 or 28; Ecrecover expects 0 or 1.
	if signature[64] >= 27 {
		signature[64] -= 27
	}

	pubKeyBytes, err := crypto.Ecrecover(hashMessage(message), signature)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	pubKey, err := crypto.UnmarshalPubkey(pubKeyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}

func equalAddr(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
