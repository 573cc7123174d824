package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"memberhub-backend/models"
)

// fakeStore is an in-memory Store with the same single-document atomicity
// the real store provides (ClaimAttendance is guarded by a mutex).
type fakeStore struct {
	mu       sync.Mutex
	events   map[uuid.UUID]*models.Event
	subs     map[uuid.UUID]*models.Subscription
	profiles map[string]*models.Profile

	appendedSerials map[string][]int64
	retryRecords    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:          make(map[uuid.UUID]*models.Event),
		subs:            make(map[uuid.UUID]*models.Subscription),
		profiles:        make(map[string]*models.Profile),
		appendedSerials: make(map[string][]int64),
	}
}

func (f *fakeStore) addEvent(event *models.Event) {
	f.events[event.ID] = event
}

func (f *fakeStore) addSubscription(sub *models.Subscription) {
	f.subs[sub.ID] = sub
}

func (f *fakeStore) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id], nil
}

func (f *fakeStore) GetSubscription(_ context.Context, eventID uuid.UUID, wallet string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.EventID == eventID && sub.WalletAddress == wallet {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetProfile(_ context.Context, wallet string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[wallet], nil
}

func (f *fakeStore) CountAttended(_ context.Context, wallet string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, sub := range f.subs {
		if sub.WalletAddress == wallet && sub.Status == models.SubscriptionAttended {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ClaimAttendance(_ context.Context, id uuid.UUID, version int, firstTime bool, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok || sub.Version != version || sub.Status == models.SubscriptionAttended {
		return false, nil
	}
	sub.Status = models.SubscriptionAttended
	sub.AttendedAt = &at
	sub.IsFirstTime = firstTime
	sub.Version++
	return true, nil
}

func (f *fakeStore) SetNFTOutcome(_ context.Context, id uuid.UUID, minted, failed bool, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return errors.New("subscription not found")
	}
	sub.NFTMinted = minted
	sub.NFTFailed = failed
	sub.NFTError = errText
	sub.Version++
	return nil
}

func (f *fakeStore) SetRewardOutcome(_ context.Context, id uuid.UUID, sent, failed bool, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return errors.New("subscription not found")
	}
	sub.RewardSent = sent
	sub.RewardFailed = failed
	sub.RewardError = errText
	sub.Version++
	return nil
}

func (f *fakeStore) RecordRetry(_ context.Context, id uuid.UUID, version int, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok || sub.Version != version {
		return false, nil
	}
	sub.RetryCount++
	sub.LastRetryAt = &at
	sub.Version++
	f.retryRecords++
	return true, nil
}

func (f *fakeStore) AppendMembershipToken(_ context.Context, wallet string, serial int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendedSerials[wallet] = append(f.appendedSerials[wallet], serial)
	profile, ok := f.profiles[wallet]
	if !ok {
		profile = &models.Profile{WalletAddress: wallet}
		f.profiles[wallet] = profile
	}
	profile.MembershipSerials = append(profile.MembershipSerials, serial)
	profile.HasAttended = true
	return nil
}

func (f *fakeStore) subscription(t *testing.T, id uuid.UUID) *models.Subscription {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		t.Fatalf("subscription %s not found", id)
	}
	copied := *sub
	return &copied
}

type fakeIssuer struct {
	mu            sync.Mutex
	mintErr       error
	transferErr   error
	mintCalls     int
	transferCalls int
	nextSerial    int64
}

func (f *fakeIssuer) Mint(_ context.Context, _ MintRequest) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mintCalls++
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	f.nextSerial++
	return &Credential{TokenID: "0xMembership", Serial: f.nextSerial}, nil
}

func (f *fakeIssuer) Transfer(_ context.Context, _ string, _ int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls++
	if f.transferErr != nil {
		return "", f.transferErr
	}
	return "0xtxhash", nil
}

type fakeDistributor struct {
	mu    sync.Mutex
	err   error
	deny  string // non-empty: return Success=false with this message
	calls int
}

func (f *fakeDistributor) Distribute(_ context.Context, _ DistributeRequest) (*DistributeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.deny != "" {
		return &DistributeResult{Success: false, Message: f.deny}, nil
	}
	return &DistributeResult{Success: true, TxID: "0xreward"}, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	topics []string
	events []interface{}
}

func (f *fakeAudit) Emit(topic string, event interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.events = append(f.events, event)
}

func strptr(s string) *string { return &s }

func int64ptr(n int64) *int64 { return &n }

func newTestEvent(secret string) *models.Event {
	return &models.Event{
		ID:            uuid.New(),
		Name:          "Meetup A",
		EventDate:     time.Now().Add(24 * time.Hour),
		Active:        true,
		QRSecretToken: secret,
	}
}

func newActiveSubscription(eventID uuid.UUID, wallet string) *models.Subscription {
	return &models.Subscription{
		ID:            uuid.New(),
		EventID:       eventID,
		WalletAddress: wallet,
		Status:        models.SubscriptionActive,
		SubscribedAt:  time.Now(),
	}
}

func newTestEngine(store Store, issuer CredentialIssuer, rewards RewardDistributor, audit AuditLog) *Engine {
	return NewEngine(store, issuer, rewards, audit)
}

func TestCheckInFirstTimerNoReward(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret-a")
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	distributor := &fakeDistributor{}
	engine := newTestEngine(store, issuer, distributor, nil)

	result, err := engine.CheckIn(context.Background(), event.ID, "0xABC", "secret-a")
	if err != nil {
		t.Fatalf("CheckIn returned error: %v", err)
	}

	if !result.IsFirstTime {
		t.Error("expected isFirstTime = true")
	}
	if !result.MemberNFTMinted {
		t.Error("expected memberNftMinted = true")
	}
	if result.RewardDistributed {
		t.Error("expected rewardDistributed = false for event without reward")
	}
	if distributor.calls != 0 {
		t.Errorf("distributor called %d times for rewardless event", distributor.calls)
	}

	got := store.subscription(t, sub.ID)
	if got.Status != models.SubscriptionAttended {
		t.Errorf("subscription status = %q, want attended", got.Status)
	}
	if got.AttendedAt == nil {
		t.Error("attended_at not set")
	}
	if !got.IsFirstTime || !got.NFTMinted || got.NFTFailed {
		t.Errorf("unexpected flags: firstTime=%v minted=%v failed=%v", got.IsFirstTime, got.NFTMinted, got.NFTFailed)
	}

	profile, _ := store.GetProfile(context.Background(), "0xabc")
	if profile == nil || !profile.HasAttended || len(profile.MembershipSerials) != 1 {
		t.Errorf("profile not updated with membership serial: %+v", profile)
	}
}

func TestCheckInRepeatAttendeeWithReward(t *testing.T) {
	store := newFakeStore()
	event := &models.Event{
		ID:            uuid.New(),
		Name:          "Meetup B",
		EventDate:     time.Now().Add(24 * time.Hour),
		Active:        true,
		QRSecretToken: "secret-b",
		RewardTokenID: strptr("0xT1"),
		RewardAmount:  int64ptr(10),
	}
	store.addEvent(event)

	// Prior attendance at another event makes 0xdef a repeat attendee.
	prior := newActiveSubscription(uuid.New(), "0xdef")
	prior.Status = models.SubscriptionAttended
	store.addSubscription(prior)

	sub := newActiveSubscription(event.ID, "0xdef")
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	distributor := &fakeDistributor{}
	engine := newTestEngine(store, issuer, distributor, nil)

	result, err := engine.CheckIn(context.Background(), event.ID, "0xDEF", "secret-b")
	if err != nil {
		t.Fatalf("CheckIn returned error: %v", err)
	}

	if result.IsFirstTime {
		t.Error("expected isFirstTime = false for repeat attendee")
	}
	if result.MemberNFTMinted {
		t.Error("expected memberNftMinted = false for repeat attendee")
	}
	if !result.RewardDistributed {
		t.Error("expected rewardDistributed = true")
	}
	if issuer.mintCalls != 0 {
		t.Errorf("issuer called %d times for repeat attendee", issuer.mintCalls)
	}

	got := store.subscription(t, sub.ID)
	if !got.RewardSent || got.RewardFailed {
		t.Errorf("unexpected reward flags: sent=%v failed=%v", got.RewardSent, got.RewardFailed)
	}
}

func TestCheckInValidationOrder(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)

	attended := newActiveSubscription(event.ID, "0xdone")
	attended.Status = models.SubscriptionAttended
	store.addSubscription(attended)

	issuer := &fakeIssuer{}
	distributor := &fakeDistributor{}
	engine := newTestEngine(store, issuer, distributor, nil)
	ctx := context.Background()

	cases := []struct {
		name    string
		eventID uuid.UUID
		wallet  string
		secret  string
		want    error
	}{
		{"unknown event", uuid.New(), "0xabc", "secret", ErrEventNotFound},
		{"secret mismatch", event.ID, "0xabc", "wrong", ErrInvalidSecret},
		{"not subscribed", event.ID, "0xnobody", "secret", ErrNotSubscribed},
		{"already attended", event.ID, "0xdone", "secret", ErrAlreadyCheckedIn},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.CheckIn(ctx, tc.eventID, tc.wallet, tc.secret)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}

	if issuer.mintCalls != 0 || distributor.calls != 0 {
		t.Error("failed validations must not reach collaborators")
	}

	got := store.subscription(t, attended.ID)
	if got.Version != 0 {
		t.Error("already-attended check-in mutated the subscription")
	}
}

func TestCheckInTransferFailureStillRecordsAttendance(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	store.addSubscription(sub)

	issuer := &fakeIssuer{transferErr: errors.New("TOKEN_NOT_ASSOCIATED")}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)

	result, err := engine.CheckIn(context.Background(), event.ID, "0xabc", "secret")
	if err != nil {
		t.Fatalf("CheckIn must succeed despite transfer failure, got: %v", err)
	}

	if !result.NFTTransferFailed {
		t.Error("expected nftTransferFailed = true")
	}
	if result.MemberNFTMinted {
		t.Error("expected memberNftMinted = false after transfer failure")
	}

	got := store.subscription(t, sub.ID)
	if got.Status != models.SubscriptionAttended {
		t.Errorf("status = %q, want attended: side-effect failure must not block attendance", got.Status)
	}
	if !got.NFTFailed || got.NFTError == "" {
		t.Errorf("failure not recorded: failed=%v err=%q", got.NFTFailed, got.NFTError)
	}
}

func TestCheckInRewardFailureStillRecordsAttendance(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	event.RewardTokenID = strptr("0xT1")
	event.RewardAmount = int64ptr(5)
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	store.addSubscription(sub)

	distributor := &fakeDistributor{deny: "INSUFFICIENT_TREASURY_BALANCE"}
	engine := newTestEngine(store, &fakeIssuer{}, distributor, nil)

	result, err := engine.CheckIn(context.Background(), event.ID, "0xabc", "secret")
	if err != nil {
		t.Fatalf("CheckIn must succeed despite reward failure, got: %v", err)
	}

	if !result.RewardFailed || result.RewardError != "INSUFFICIENT_TREASURY_BALANCE" {
		t.Errorf("reward failure not surfaced: %+v", result)
	}

	got := store.subscription(t, sub.ID)
	if got.Status != models.SubscriptionAttended || !got.RewardFailed {
		t.Errorf("reward failure not recorded: status=%q failed=%v", got.Status, got.RewardFailed)
	}
}

func TestCheckInEmitsAudit(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	event.AuditTopicID = strptr("events.meetup-a")
	store.addEvent(event)
	store.addSubscription(newActiveSubscription(event.ID, "0xabc"))

	sink := &fakeAudit{}
	engine := newTestEngine(store, &fakeIssuer{}, &fakeDistributor{}, sink)

	if _, err := engine.CheckIn(context.Background(), event.ID, "0xabc", "secret"); err != nil {
		t.Fatalf("CheckIn returned error: %v", err)
	}

	if len(sink.topics) != 1 || sink.topics[0] != "events.meetup-a" {
		t.Fatalf("audit topics = %v, want one emission on events.meetup-a", sink.topics)
	}
	payload, ok := sink.events[0].(CheckInAudit)
	if !ok {
		t.Fatalf("unexpected audit payload type %T", sink.events[0])
	}
	if payload.WalletAddress != "0xabc" || !payload.IsFirstTime {
		t.Errorf("unexpected audit payload: %+v", payload)
	}
}

func TestRetryNothingToRetry(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	sub.Status = models.SubscriptionAttended
	sub.IsFirstTime = true
	sub.NFTMinted = true
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	distributor := &fakeDistributor{}
	engine := newTestEngine(store, issuer, distributor, nil)

	result, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}

	if result.NFT.Attempted || result.Reward.Attempted {
		t.Errorf("expected no attempts, got %+v", result)
	}
	if result.NFT.Message != "nothing to retry" || result.Reward.Message != "nothing to retry" {
		t.Errorf("expected 'nothing to retry' messages, got %+v", result)
	}
	if issuer.mintCalls != 0 || distributor.calls != 0 {
		t.Error("clean retry must not call collaborators")
	}
	if store.retryRecords != 0 {
		t.Error("clean retry must not consume a retry attempt")
	}
}

func TestRetryNFTSuccessClearsFlags(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	sub.Status = models.SubscriptionAttended
	sub.IsFirstTime = true
	sub.NFTFailed = true
	sub.NFTError = "TOKEN_NOT_ASSOCIATED"
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)

	result, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}

	if !result.NFT.Attempted || !result.NFT.Success {
		t.Errorf("expected successful NFT retry, got %+v", result.NFT)
	}

	got := store.subscription(t, sub.ID)
	if !got.NFTMinted || got.NFTFailed || got.NFTError != "" {
		t.Errorf("flags not cleared: minted=%v failed=%v err=%q", got.NFTMinted, got.NFTFailed, got.NFTError)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
}

func TestRetryNFTFailureLeavesFlagsUntouched(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	sub.Status = models.SubscriptionAttended
	sub.IsFirstTime = true
	sub.NFTFailed = true
	sub.NFTError = "TOKEN_NOT_ASSOCIATED"
	store.addSubscription(sub)

	issuer := &fakeIssuer{mintErr: errors.New("NETWORK_TIMEOUT")}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)

	result, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}

	if !result.NFT.Attempted || result.NFT.Success {
		t.Errorf("expected failed attempt, got %+v", result.NFT)
	}
	if result.NFT.Message == "" {
		t.Error("expected the fresh error text in the result")
	}

	got := store.subscription(t, sub.ID)
	if !got.NFTFailed || got.NFTError != "TOKEN_NOT_ASSOCIATED" {
		t.Errorf("stored flags must stay untouched on retry failure: failed=%v err=%q", got.NFTFailed, got.NFTError)
	}
}

func TestRetrySkipsNFTForNonFirstTimer(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	sub.Status = models.SubscriptionAttended
	sub.IsFirstTime = false
	sub.NFTFailed = true
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)

	result, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}

	// The stored first-time flag gates the NFT branch; it is never
	// re-derived from attendance counts.
	if result.NFT.Attempted {
		t.Error("NFT retry must not run for a non-first-timer")
	}
	if issuer.mintCalls != 0 {
		t.Error("issuer must not be called")
	}
}

func TestRetryUsesStoredFirstTimeFlag(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)

	// The wallet now has attended records, which would make a recomputed
	// first-time check false. The stored flag says true and must win.
	other := newActiveSubscription(uuid.New(), "0xabc")
	other.Status = models.SubscriptionAttended
	store.addSubscription(other)

	sub := newActiveSubscription(event.ID, "0xabc")
	sub.Status = models.SubscriptionAttended
	sub.IsFirstTime = true
	sub.NFTFailed = true
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)

	result, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}
	if !result.NFT.Attempted || !result.NFT.Success {
		t.Errorf("NFT retry should run off the stored flag, got %+v", result.NFT)
	}
	if issuer.mintCalls != 1 {
		t.Errorf("mint calls = %d, want 1", issuer.mintCalls)
	}
}

func TestRetryBothBranchesIndependent(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	event.RewardTokenID = strptr("0xT1")
	event.RewardAmount = int64ptr(10)
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	sub.Status = models.SubscriptionAttended
	sub.IsFirstTime = true
	sub.NFTFailed = true
	sub.RewardFailed = true
	store.addSubscription(sub)

	// NFT branch fails again, reward branch succeeds.
	issuer := &fakeIssuer{mintErr: errors.New("still broken")}
	distributor := &fakeDistributor{}
	engine := newTestEngine(store, issuer, distributor, nil)

	result, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}

	if result.NFT.Success {
		t.Error("NFT branch should have failed")
	}
	if !result.Reward.Attempted || !result.Reward.Success {
		t.Errorf("reward branch should succeed independently, got %+v", result.Reward)
	}

	got := store.subscription(t, sub.ID)
	if !got.RewardSent || got.RewardFailed {
		t.Errorf("reward flags not cleared: sent=%v failed=%v", got.RewardSent, got.RewardFailed)
	}
	if !got.NFTFailed {
		t.Error("NFT failure flag must survive the failed retry")
	}
}

func TestRetryRequiresAttendedStatus(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	store.addSubscription(newActiveSubscription(event.ID, "0xabc"))

	engine := newTestEngine(store, &fakeIssuer{}, &fakeDistributor{}, nil)

	_, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if !errors.Is(err, ErrNotAttended) {
		t.Errorf("got %v, want ErrNotAttended", err)
	}
}

func TestRetryThrottledByBackoff(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lastRetry := base.Add(-time.Minute)
	sub := newActiveSubscription(event.ID, "0xabc")
	sub.Status = models.SubscriptionAttended
	sub.IsFirstTime = true
	sub.NFTFailed = true
	sub.RetryCount = 3 // backoff: 30s * 2^3 = 4m
	sub.LastRetryAt = &lastRetry
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)
	engine.now = func() time.Time { return base }

	_, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if !errors.Is(err, ErrRetryThrottled) {
		t.Fatalf("got %v, want ErrRetryThrottled", err)
	}
	if issuer.mintCalls != 0 {
		t.Error("throttled retry must not call collaborators")
	}

	// Past the window the retry goes through.
	engine.now = func() time.Time { return base.Add(10 * time.Minute) }
	result, err := engine.RetryFailed(context.Background(), event.ID, "0xabc")
	if err != nil {
		t.Fatalf("RetryFailed returned error: %v", err)
	}
	if !result.NFT.Success {
		t.Errorf("expected NFT retry success, got %+v", result.NFT)
	}
}

func TestBackoffCapped(t *testing.T) {
	engine := newTestEngine(newFakeStore(), &fakeIssuer{}, &fakeDistributor{}, nil)

	if got := engine.backoff(0); got != 30*time.Second {
		t.Errorf("backoff(0) = %v, want 30s", got)
	}
	if got := engine.backoff(2); got != 2*time.Minute {
		t.Errorf("backoff(2) = %v, want 2m", got)
	}
	if got := engine.backoff(50); got != time.Hour {
		t.Errorf("backoff(50) = %v, want the 1h cap", got)
	}
}

func TestConcurrentCheckInSingleTransition(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.CheckIn(context.Background(), event.ID, "0xabc", "secret")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyCheckedIn):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	// The version CAS admits exactly one attended transition and one
	// side-effect attempt, no matter how many check-ins race.
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if conflicts != racers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, racers-1)
	}
	if issuer.mintCalls != 1 {
		t.Errorf("mint calls = %d, want exactly 1", issuer.mintCalls)
	}
}

func TestConcurrentRetrySingleAttempt(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	sub := newActiveSubscription(event.ID, "0xabc")
	sub.Status = models.SubscriptionAttended
	sub.IsFirstTime = true
	sub.NFTFailed = true
	store.addSubscription(sub)

	issuer := &fakeIssuer{}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)
	engine.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	const racers = 8
	var wg sync.WaitGroup
	results := make([]*models.RetryResult, racers)
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.RetryFailed(context.Background(), event.ID, "0xabc")
		}(i)
	}
	wg.Wait()

	// The version CAS on the retry record admits exactly one attempt. The
	// losers are either throttled or, having loaded the row after the winner
	// cleared the flag, told there is nothing to retry; none of them mint.
	var attempts int
	for i, err := range errs {
		switch {
		case err == nil:
			if results[i].NFT.Attempted {
				attempts++
			}
		case errors.Is(err, ErrRetryThrottled):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want exactly 1", attempts)
	}
	if issuer.mintCalls != 1 {
		t.Errorf("mint calls = %d, want exactly 1", issuer.mintCalls)
	}
	if store.retryRecords != 1 {
		t.Errorf("retry records = %d, want exactly 1", store.retryRecords)
	}
}

func TestWalletNormalization(t *testing.T) {
	if got := NormalizeWallet("  0xABCdef "); got != "0xabcdef" {
		t.Errorf("NormalizeWallet = %q", got)
	}
}

func TestCheckInUsesProfileForMintMetadata(t *testing.T) {
	store := newFakeStore()
	event := newTestEvent("secret")
	store.addEvent(event)
	store.addSubscription(newActiveSubscription(event.ID, "0xabc"))
	store.profiles["0xabc"] = &models.Profile{
		WalletAddress: "0xabc",
		Name:          strptr("Ada"),
		Email:         strptr("ada@example.com"),
	}

	var captured MintRequest
	issuer := &capturingIssuer{capture: &captured}
	engine := newTestEngine(store, issuer, &fakeDistributor{}, nil)

	if _, err := engine.CheckIn(context.Background(), event.ID, "0xabc", "secret"); err != nil {
		t.Fatalf("CheckIn returned error: %v", err)
	}
	if captured.Name != "Ada" || captured.Email != "ada@example.com" {
		t.Errorf("mint request missing profile data: %+v", captured)
	}
}

type capturingIssuer struct {
	capture *MintRequest
}

func (c *capturingIssuer) Mint(_ context.Context, req MintRequest) (*Credential, error) {
	*c.capture = req
	return &Credential{TokenID: "0xMembership", Serial: 1}, nil
}

func (c *capturingIssuer) Transfer(_ context.Context, _ string, _ int64, _ string) (string, error) {
	return "0xtxhash", nil
}
