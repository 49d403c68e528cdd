package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature は署名がウォレットと一致しないことを示す。
var ErrInvalidSignature = errors.New("invalid signature")

const registrationMessage = "Please sign this message to connect your Discord account with your wallet address. Session ID: "

// RegistrationMessage はウォレット所有者が署名するメッセージを返す。
func RegistrationMessage(token string) string {
	return registrationMessage + token
}

// VerifySignature はEIP-191形式（personal_sign）の署名がwalletによるものかを検証する。
// 署名は0x付き16進の65バイト（r, s, v）で、vは0/1と27/28の両方を受け付ける。
func VerifySignature(message, signature string, wallet common.Address) error {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != wallet {
		return fmt.Errorf("%w: signed by %s", ErrInvalidSignature, recovered.Hex())
	}
	return nil
}
