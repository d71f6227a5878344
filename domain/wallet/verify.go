// Package wallet verifies EIP-191 personal_sign signatures against the
// gateway's challenge messages. It never logs or persists a raw signature.
package wallet

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidAddress reports whether addr is a 0x-prefixed, 40 hex character
// wallet address (case-insensitive).
func IsValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// Normalize lowercases a wallet address to its canonical on-wire form.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Verify checks that signatureHex is a valid EIP-191 personal_sign signature
// over message, recovering to expectedAddress (case-insensitive). It
// returns a *errors.ServiceError from the gateway's taxonomy on any failure.
func Verify(message []byte, signatureHex, expectedAddress string) error {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return err
	}

	digest := accounts.TextHash(message)

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		// A well-formed signature that recovers to no key was not produced by
		// expectedAddress.
		return gatewayerrors.SignatureWalletMismatch()
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	if !strings.EqualFold(recovered.Hex(), expectedAddress) {
		return gatewayerrors.SignatureWalletMismatch()
	}

	return nil
}

// decodeSignature parses a 0x-prefixed or bare hex signature and normalizes
// its recovery-id byte to the [0, 1] range go-ethereum's crypto package
// expects (wallets commonly emit 27/28, following the legacy Bitcoin
// convention).
func decodeSignature(signatureHex string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(signatureHex), "0x")
	if trimmed == "" {
		return nil, gatewayerrors.SignatureMalformed("empty signature")
	}

	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, gatewayerrors.SignatureMalformed("signature is not valid hex")
	}
	if len(raw) != 65 {
		return nil, gatewayerrors.SignatureMalformed("signature must be 65 bytes (r || s || v)")
	}

	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return nil, gatewayerrors.SignatureMalformed("signature recovery id out of range")
	}
	return sig, nil
}
