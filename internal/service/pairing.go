package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pairlab/pairing-server-go/internal/errors"
	"github.com/pairlab/pairing-server-go/internal/model"
	"github.com/pairlab/pairing-server-go/internal/repository"
	"github.com/pairlab/pairing-server-go/internal/token"
	"github.com/pairlab/pairing-server-go/internal/util"
)

// maxCodeAttempts bounds regeneration on code collisions before the
// service reports CAPACITY_EXHAUSTED.
const maxCodeAttempts = 10

type InitiateResult struct {
	RequestID string    `json:"requestId"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StatusResult is the snapshot returned to the polling device. It never
// carries the issued token; Finish is the only path that returns it.
type StatusResult struct {
	RequestID  string             `json:"requestId"`
	State      model.PairingState `json:"state"`
	ApprovedBy *string            `json:"approvedBy,omitempty"`
	ExpiresAt  time.Time          `json:"expiresAt"`
}

type PairingService struct {
	repo   repository.PairingRepository
	issuer token.Issuer
	ttl    time.Duration
	now    func() time.Time
}

func NewPairingService(repo repository.PairingRepository, issuer token.Issuer, ttl time.Duration) *PairingService {
	return &PairingService{
		repo:   repo,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Initiate creates a pending pairing request for an unauthenticated
// device. The store's uniqueness check is the arbiter for collisions;
// generation just retries with a fresh code.
func (s *PairingService) Initiate(ctx context.Context) (*InitiateResult, error) {
	expiresAt := s.now().Add(s.ttl)

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		req, err := s.repo.Create(ctx, model.CreatePairingRequestParams{
			ID:        util.NewRequestID(),
			Code:      util.GenerateCode(),
			ExpiresAt: expiresAt,
		})
		if apperrors.HasCode(err, apperrors.ErrCodeCodeCollision) {
			continue
		}
		if err != nil {
			return nil, apperrors.Database(err)
		}

		log.Info().
			Str("requestId", req.ID).
			Str("code", util.MaskCode(req.Code)).
			Time("expiresAt", req.ExpiresAt).
			Msg("pairing request created")

		return &InitiateResult{
			RequestID: req.ID,
			Code:      req.Code,
			ExpiresAt: req.ExpiresAt,
		}, nil
	}

	log.Error().Int("attempts", maxCodeAttempts).Msg("pairing code space exhausted")
	return nil, apperrors.CapacityExhausted()
}

// Status is a side-effect-free read apart from lazy expiry: a request
// past its deadline is reported (and persisted) as expired immediately,
// independent of sweep timing.
func (s *PairingService) Status(ctx context.Context, requestID string) (*StatusResult, error) {
	req, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if req == nil {
		return nil, apperrors.NotFound("Pairing request")
	}

	if req.State.Active() && !req.ExpiresAt.After(s.now()) {
		if err := s.repo.MarkExpiredByID(ctx, requestID); err != nil {
			log.Error().Err(err).Str("requestId", requestID).Msg("lazy expiry failed")
		}
		return &StatusResult{
			RequestID: req.ID,
			State:     model.PairingStateExpired,
			ExpiresAt: req.ExpiresAt,
		}, nil
	}

	return &StatusResult{
		RequestID:  req.ID,
		State:      req.State,
		ApprovedBy: req.ApprovedBy,
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

// Claim binds the approving identity to a pending request. The
// compare-and-swap guarantees at most one claim succeeds per code; a
// lost race surfaces as INVALID_TRANSITION.
func (s *PairingService) Claim(ctx context.Context, code, approvedBy string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return "", apperrors.MissingRequired("code")
	}

	req, err := s.repo.FindPendingByCode(ctx, normalized)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if req == nil {
		log.Warn().Str("code", util.MaskCode(normalized)).Msg("claim for unknown pairing code")
		return "", apperrors.NotFound("Pairing code")
	}
	if !req.ExpiresAt.After(s.now()) {
		if err := s.repo.MarkExpiredByID(ctx, req.ID); err != nil {
			log.Error().Err(err).Str("requestId", req.ID).Msg("lazy expiry failed")
		}
		return "", apperrors.Expired("Pairing code")
	}

	claimed, err := s.repo.CompareAndSwapState(ctx, req.ID, model.StateTransition{
		From:       model.PairingStatePending,
		To:         model.PairingStateApproved,
		ApprovedBy: &approvedBy,
	})
	if err != nil {
		return "", err
	}

	log.Info().
		Str("requestId", claimed.ID).
		Str("code", util.MaskCode(claimed.Code)).
		Str("approvedBy", approvedBy).
		Msg("pairing request claimed")

	return claimed.ID, nil
}

// Finish consumes an approved request and exchanges it for a session
// token, exactly once. A repeat call observes ALREADY_CONSUMED; the
// caller cannot re-fetch a token lost to a network failure.
func (s *PairingService) Finish(ctx context.Context, requestID string) (string, error) {
	req, err := s.repo.CompareAndSwapState(ctx, requestID, model.StateTransition{
		From: model.PairingStateApproved,
		To:   model.PairingStateFinished,
	})
	if err != nil {
		return "", s.classifyFinishFailure(ctx, requestID, err)
	}

	if req.ApprovedBy == nil {
		return "", apperrors.Internal("Approved pairing request has no approving identity")
	}

	sessionToken, err := s.issuer.Issue(ctx, *req.ApprovedBy)
	if err != nil {
		log.Error().Err(err).Str("requestId", requestID).Msg("token issuer failed")
		return "", apperrors.UpstreamFailure("token issuer", err)
	}

	if err := s.repo.StoreIssuedToken(ctx, requestID, sessionToken); err != nil {
		// The token is already minted; losing the audit copy is not a
		// reason to fail the device.
		log.Error().Err(err).Str("requestId", requestID).Msg("failed to store issued token")
	}

	log.Info().
		Str("requestId", requestID).
		Str("userId", *req.ApprovedBy).
		Msg("pairing request finished, token issued")

	return sessionToken, nil
}

// classifyFinishFailure maps a lost swap into the caller-facing
// taxonomy: a still-pending request is NOT_READY, an already finished
// one is ALREADY_CONSUMED.
func (s *PairingService) classifyFinishFailure(ctx context.Context, requestID string, swapErr error) error {
	if !apperrors.HasCode(swapErr, apperrors.ErrCodeInvalidTransition) {
		return swapErr
	}

	req, err := s.repo.FindByID(ctx, requestID)
	if err != nil || req == nil {
		return swapErr
	}

	switch req.State {
	case model.PairingStatePending:
		return apperrors.NotReady()
	case model.PairingStateFinished:
		return apperrors.AlreadyConsumed()
	default:
		return swapErr
	}
}
