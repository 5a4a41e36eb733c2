// Package auth implements the two-step game-server authentication:
// an EIP-191 personal-sign challenge proves control of a player
// address, then a short-lived bearer token scoped to (contract, game)
// covers the rest of the session.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v4"
)

const (
	// Namespace distinguishes this challenge from other sign-in-with-
	// wallet flows a wallet may present.
	Namespace = "ScriptGame"

	// ChallengeWindow bounds how old an echoed challenge timestamp may
	// be at verification.
	ChallengeWindow = 5 * time.Minute

	// TokenValidity is the bearer-token lifetime.
	TokenValidity = time.Hour
)

var (
	ErrBadSignature   = errors.New("signature does not match address")
	ErrStaleChallenge = errors.New("challenge timestamp outside validity window")
	ErrBadToken       = errors.New("invalid or expired token")
)

// Challenge renders the fixed EIP-191 message a player signs. The
// timestamp is milliseconds since epoch and is echoed back verbatim by
// the client.
func Challenge(contract common.Address, gameID uint64, timestampMs int64) string {
	return fmt.Sprintf(
		"Sign this message to authenticate with the game server.\n\n"+
			"Contract: %s\n"+
			"GameId: %d\n"+
			"Namespace: %s\n"+
			"Timestamp: %d\n\n"+
			"This signature is valid for 5 minutes.",
		strings.ToLower(contract.Hex()), gameID, Namespace, timestampMs,
	)
}

// VerifySignature recovers the signer of the challenge under the
// EIP-191 personal-sign rule and requires it to equal the claimed
// address (case-insensitive). The timestamp must be within
// ChallengeWindow of now.
func VerifySignature(contract common.Address, gameID uint64, timestampMs int64, claimed common.Address, signature string) error {
	age := time.Since(time.UnixMilli(timestampMs))
	if age < -ChallengeWindow || age > ChallengeWindow {
		return ErrStaleChallenge
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature has %d bytes, want %d", len(sig), crypto.SignatureLength)
	}
	// Wallets emit V as 27/28; recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	digest := accounts.TextHash([]byte(Challenge(contract, gameID, timestampMs)))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if crypto.PubkeyToAddress(*pub) != claimed {
		return ErrBadSignature
	}
	return nil
}

// tokenClaims is the bearer-token payload.
type tokenClaims struct {
	Address  string `json:"address"`
	IssuedAt int64  `json:"issuedAt"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates bearer tokens with a symmetric
// secret derived as base || "-" || lowercase contract address, so
// tokens never transfer between contracts.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer derives the scoped signing secret.
func NewTokenIssuer(base string, contract common.Address) *TokenIssuer {
	return &TokenIssuer{secret: []byte(base + "-" + strings.ToLower(contract.Hex()))}
}

// Issue mints a token for the address. Returns the token and its
// validity in seconds.
func (t *TokenIssuer) Issue(addr common.Address) (string, int64, error) {
	now := time.Now()
	claims := tokenClaims{
		Address:  strings.ToLower(addr.Hex()),
		IssuedAt: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenValidity)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return token, int64(TokenValidity / time.Second), nil
}

// Validate checks the token signature and expiry and returns the
// embedded address. Membership in the game's player set is the
// caller's check; tokens outlive nothing else.
func (t *TokenIssuer) Validate(tokenString string) (common.Address, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return common.Address{}, ErrBadToken
	}
	if !common.IsHexAddress(claims.Address) {
		return common.Address{}, ErrBadToken
	}
	return common.HexToAddress(claims.Address), nil
}
