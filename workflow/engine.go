package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"memberhub-backend/models"
)

const (
	defaultRetryBase = 30 * time.Second
	defaultRetryCap  = time.Hour
)

// Engine orchestrates the attendance workflow: check-in validation,
// first-time detection, membership NFT issuance, reward distribution, and
// the retry path for failed side effects. All collaborators are injected;
// the engine holds no state between requests.
type Engine struct {
	store   Store
	issuer  CredentialIssuer
	rewards RewardDistributor
	audit   AuditLog

	retryBase time.Duration
	retryCap  time.Duration
	now       func() time.Time
}

func NewEngine(store Store, issuer CredentialIssuer, rewards RewardDistributor, audit AuditLog) *Engine {
	return &Engine{
		store:     store,
		issuer:    issuer,
		rewards:   rewards,
		audit:     audit,
		retryBase: defaultRetryBase,
		retryCap:  defaultRetryCap,
		now:       time.Now,
	}
}

// NormalizeWallet case-normalizes a wallet address the way it is stored.
func NormalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// CheckIn runs the check-in state transition for one (event, wallet) pair.
//
// Validation is strictly ordered and performs no mutation: unknown event,
// secret mismatch, missing subscription, already attended. The attended
// transition itself is a compare-and-swap on the subscription's version, so
// exactly one of two racing check-ins wins and attempts side effects; the
// loser gets ErrAlreadyCheckedIn.
//
// Side-effect failures (mint, transfer, reward distribution) never fail the
// check-in: they are recorded as flags on the subscription for later retry.
func (e *Engine) CheckIn(ctx context.Context, eventID uuid.UUID, wallet, secret string) (*models.CheckInResult, error) {
	wallet = NormalizeWallet(wallet)

	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("loading event: %w", err)
	}
	if event == nil {
		return nil, ErrEventNotFound
	}

	// Shared-secret gate, not proof of possession: an exact match against
	// the token embedded in the event's QR code.
	if secret != event.QRSecretToken {
		return nil, ErrInvalidSecret
	}

	sub, err := e.store.GetSubscription(ctx, eventID, wallet)
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return nil, ErrNotSubscribed
	}
	if sub.Status == models.SubscriptionAttended {
		return nil, ErrAlreadyCheckedIn
	}

	// First-time detection: zero attended subscriptions anywhere means this
	// is the wallet's first check-in. The flag is persisted by the claim
	// below and never recomputed, so the retry path sees the same answer.
	attendedCount, err := e.store.CountAttended(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("counting attendance: %w", err)
	}
	firstTime := attendedCount == 0

	now := e.now()
	claimed, err := e.store.ClaimAttendance(ctx, sub.ID, sub.Version, firstTime, now)
	if err != nil {
		return nil, fmt.Errorf("claiming attendance: %w", err)
	}
	if !claimed {
		// A concurrent check-in won the version race.
		return nil, ErrAlreadyCheckedIn
	}

	result := &models.CheckInResult{IsFirstTime: firstTime}

	if firstTime {
		e.issueCredential(ctx, sub.ID, wallet, result)
	}

	if event.HasReward() {
		e.distributeReward(ctx, event, sub.ID, wallet, result)
	}

	e.emitAudit(event, wallet, result, now)

	return result, nil
}

// RetryFailed re-attempts the side effects flagged as failed on an attended
// subscription. The two branches are independent; both run in one call when
// both are flagged. Retries are throttled with capped exponential backoff
// keyed on the subscription's retry count.
func (e *Engine) RetryFailed(ctx context.Context, eventID uuid.UUID, wallet string) (*models.RetryResult, error) {
	wallet = NormalizeWallet(wallet)

	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("loading event: %w", err)
	}
	if event == nil {
		return nil, ErrEventNotFound
	}

	sub, err := e.store.GetSubscription(ctx, eventID, wallet)
	if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}
	if sub == nil {
		return nil, ErrNotSubscribed
	}
	if sub.Status != models.SubscriptionAttended {
		return nil, ErrNotAttended
	}

	result := &models.RetryResult{
		NFT:    models.RetryOutcome{Message: "nothing to retry"},
		Reward: models.RetryOutcome{Message: "nothing to retry"},
	}

	// The NFT branch only re-runs for the original first-timer: the stored
	// flag is authoritative, never re-derived from attendance counts.
	retryNFT := sub.NFTFailed && sub.IsFirstTime
	retryReward := sub.RewardFailed && event.HasReward()
	if !retryNFT && !retryReward {
		return result, nil
	}

	now := e.now()
	if sub.LastRetryAt != nil {
		wait := e.backoff(sub.RetryCount)
		if now.Before(sub.LastRetryAt.Add(wait)) {
			return nil, ErrRetryThrottled
		}
	}
	// The attempt is claimed with a version CAS: of two retries racing past
	// the backoff gate, only one records the attempt and runs side effects.
	claimed, err := e.store.RecordRetry(ctx, sub.ID, sub.Version, now)
	if err != nil {
		return nil, fmt.Errorf("recording retry attempt: %w", err)
	}
	if !claimed {
		return nil, ErrRetryThrottled
	}

	if retryNFT {
		result.NFT.Attempted = true
		cred, txErr := e.mintAndTransfer(ctx, wallet)
		if txErr != nil {
			// Flags stay untouched on failure; only the result carries the
			// fresh error text.
			result.NFT.Message = txErr.Error()
		} else {
			if err := e.store.AppendMembershipToken(ctx, wallet, cred.Serial); err != nil {
				log.Printf("workflow: failed to record membership token for %s: %v", wallet, err)
			}
			if err := e.store.SetNFTOutcome(ctx, sub.ID, true, false, ""); err != nil {
				log.Printf("workflow: failed to clear nft failure for %s: %v", sub.ID, err)
			}
			result.NFT.Success = true
			result.NFT.Message = "membership NFT issued"
		}
	}

	if retryReward {
		result.Reward.Attempted = true
		msg, ok := e.tryDistribute(ctx, event, wallet)
		if !ok {
			result.Reward.Message = msg
		} else {
			if err := e.store.SetRewardOutcome(ctx, sub.ID, true, false, ""); err != nil {
				log.Printf("workflow: failed to clear reward failure for %s: %v", sub.ID, err)
			}
			result.Reward.Success = true
			result.Reward.Message = "reward distributed"
		}
	}

	return result, nil
}

// issueCredential mints and transfers the membership NFT for a first-time
// participant, recording the outcome on the subscription either way.
func (e *Engine) issueCredential(ctx context.Context, subID uuid.UUID, wallet string, result *models.CheckInResult) {
	cred, err := e.mintAndTransfer(ctx, wallet)
	if err != nil {
		log.Printf("workflow: membership NFT issuance failed for %s: %v", wallet, err)
		result.NFTTransferFailed = true
		result.NFTError = err.Error()
		if dbErr := e.store.SetNFTOutcome(ctx, subID, false, true, err.Error()); dbErr != nil {
			log.Printf("workflow: failed to record nft failure for %s: %v", subID, dbErr)
		}
		return
	}

	if err := e.store.AppendMembershipToken(ctx, wallet, cred.Serial); err != nil {
		log.Printf("workflow: failed to record membership token for %s: %v", wallet, err)
	}
	if err := e.store.SetNFTOutcome(ctx, subID, true, false, ""); err != nil {
		log.Printf("workflow: failed to record nft success for %s: %v", subID, err)
	}
	result.MemberNFTMinted = true
}

func (e *Engine) mintAndTransfer(ctx context.Context, wallet string) (*Credential, error) {
	req := MintRequest{Wallet: wallet}
	if profile, err := e.store.GetProfile(ctx, wallet); err == nil && profile != nil {
		if profile.Name != nil {
			req.Name = *profile.Name
		}
		if profile.Email != nil {
			req.Email = *profile.Email
		}
	}

	cred, err := e.issuer.Mint(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	if _, err := e.issuer.Transfer(ctx, cred.TokenID, cred.Serial, wallet); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	return cred, nil
}

func (e *Engine) distributeReward(ctx context.Context, event *models.Event, subID uuid.UUID, wallet string, result *models.CheckInResult) {
	msg, ok := e.tryDistribute(ctx, event, wallet)
	if !ok {
		log.Printf("workflow: reward distribution failed for %s on event %s: %s", wallet, event.ID, msg)
		result.RewardFailed = true
		result.RewardError = msg
		if dbErr := e.store.SetRewardOutcome(ctx, subID, false, true, msg); dbErr != nil {
			log.Printf("workflow: failed to record reward failure for %s: %v", subID, dbErr)
		}
		return
	}

	if err := e.store.SetRewardOutcome(ctx, subID, true, false, ""); err != nil {
		log.Printf("workflow: failed to record reward success for %s: %v", subID, err)
	}
	result.RewardDistributed = true
}

func (e *Engine) tryDistribute(ctx context.Context, event *models.Event, wallet string) (string, bool) {
	res, err := e.rewards.Distribute(ctx, DistributeRequest{
		EventID:     event.ID.String(),
		TokenID:     *event.RewardTokenID,
		Amount:      *event.RewardAmount,
		Destination: wallet,
	})
	if err != nil {
		return err.Error(), false
	}
	if !res.Success {
		return res.Message, false
	}
	return "", true
}

func (e *Engine) emitAudit(event *models.Event, wallet string, result *models.CheckInResult, at time.Time) {
	if e.audit == nil || event.AuditTopicID == nil {
		return
	}
	e.audit.Emit(*event.AuditTopicID, CheckInAudit{
		EventID:       event.ID.String(),
		EventName:     event.Name,
		WalletAddress: wallet,
		IsFirstTime:   result.IsFirstTime,
		NFTMinted:     result.MemberNFTMinted,
		RewardSent:    result.RewardDistributed,
		CheckedInAt:   at,
	})
}

// backoff doubles the base wait per recorded attempt, capped.
func (e *Engine) backoff(retryCount int) time.Duration {
	wait := e.retryBase
	for i := 0; i < retryCount; i++ {
		wait *= 2
		if wait >= e.retryCap {
			return e.retryCap
		}
	}
	return wait
}
