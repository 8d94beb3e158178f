package resolution

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// TokenGenerator produces the proof-of-action token stored as SignatureHash.
type TokenGenerator interface {
	Generate(resolutionID, signatoryID string, signedAt time.Time) (string, error)
}

// ProofTokenGenerator issues placeholder proof tokens: BLAKE2b-256 over fresh
// random bytes bound to the seat and signing time. It is not a digital signature.
type ProofTokenGenerator struct {
	key []byte
}

func NewProofTokenGenerator(key []byte) *ProofTokenGenerator {
	return &ProofTokenGenerator{key: key}
}

func (g *ProofTokenGenerator) Generate(resolutionID, signatoryID string, signedAt time.Time) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("resolution: read nonce: %w", err)
	}
	var key []byte
	if len(g.key) > 0 {
		key = g.key
		if len(key) > blake2b.Size {
			sum := blake2b.Sum256(key)
			key = sum[:]
		}
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("resolution: init token hash: %w", err)
	}
	h.Write(nonce)
	h.Write([]byte(resolutionID))
	h.Write([]byte{0})
	h.Write([]byte(signatoryID))
	h.Write([]byte{0})
	h.Write([]byte(signedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SignatureCoordinator records individual signatures against a resolution.
type SignatureCoordinator struct {
	repo   Repository
	tokens TokenGenerator
	otp    OTPVerifier
	now    func() time.Time
	log    *zap.Logger
}

func NewSignatureCoordinator(repo Repository, log *zap.Logger) *SignatureCoordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &SignatureCoordinator{
		repo:   repo,
		tokens: NewProofTokenGenerator(nil),
		now:    time.Now,
		log:    log,
	}
}

func (c *SignatureCoordinator) WithClock(now func() time.Time) *SignatureCoordinator {
	c.now = now
	return c
}

func (c *SignatureCoordinator) WithTokenGenerator(gen TokenGenerator) *SignatureCoordinator {
	c.tokens = gen
	return c
}

// WithOTPVerifier enables OTP checks. Without a verifier the OTP is ignored.
func (c *SignatureCoordinator) WithOTPVerifier(v OTPVerifier) *SignatureCoordinator {
	c.otp = v
	return c
}

// Sign stamps the seat and returns the refreshed resolution. Checks run in
// order: existence, signable status, panel membership, prior signature.
func (c *SignatureCoordinator) Sign(ctx context.Context, resolutionID, signatoryID, otp string) (Resolution, error) {
	if resolutionID == "" || signatoryID == "" {
		return Resolution{}, fmt.Errorf("%w: resolution id and signatory id required", ErrInvalidRequest)
	}

	res, err := c.repo.Get(ctx, resolutionID)
	if err != nil {
		return Resolution{}, err
	}
	if res.Status != StatusAwaitingSignatures {
		return Resolution{}, ErrResolutionNotSignable
	}
	seat, ok := res.Signatory(signatoryID)
	if !ok {
		return Resolution{}, ErrUnknownSignatory
	}
	if seat.Signed() {
		return Resolution{}, ErrAlreadySigned
	}

	if c.otp != nil {
		valid, err := c.otp.Verify(ctx, resolutionID, signatoryID, otp)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolution: verify otp: %w", err)
		}
		if !valid {
			return Resolution{}, ErrInvalidOTP
		}
	}

	signedAt := c.now().UTC()
	token, err := c.tokens.Generate(resolutionID, signatoryID, signedAt)
	if err != nil {
		return Resolution{}, err
	}

	if err := c.repo.UpdateSignatory(ctx, resolutionID, signatoryID, signedAt, token); err != nil {
		return Resolution{}, err
	}

	refreshed, err := c.repo.Get(ctx, resolutionID)
	if err != nil {
		// The write landed; answer from the record we already hold.
		c.log.Warn("reload after sign failed",
			zap.String("resolution_id", resolutionID),
			zap.String("signatory_id", signatoryID),
			zap.Error(err),
		)
		refreshed = res.Clone()
		for i := range refreshed.Signatories {
			if refreshed.Signatories[i].ID == signatoryID {
				refreshed.Signatories[i].SignedAt = &signedAt
				refreshed.Signatories[i].SignatureHash = &token
			}
		}
		refreshed.UpdatedAt = signedAt
	}

	c.log.Info("signature recorded",
		zap.String("resolution_id", resolutionID),
		zap.String("signatory_id", signatoryID),
		zap.Int("signed", refreshed.SignedCount()),
		zap.Int("panel", len(refreshed.Signatories)),
	)
	return refreshed, nil
}
