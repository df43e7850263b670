package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hustl/pkg/domain"
	"hustl/pkg/realtime"
	"hustl/pkg/storage"
	"hustl/pkg/store"
)

const testPassword = "Coffee-Run-2024"

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	p.keys = append(p.keys, routingKey)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.keys {
		if k == key {
			return true
		}
	}
	return false
}

type testEnv struct {
	app    *App
	store  *store.GormStore
	broker *realtime.MemoryBroker
	events *recordingPublisher
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	s, err := store.NewGormStore("sqlite::memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	broker := realtime.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	pub := &recordingPublisher{}
	cfg := Config{
		Store:    s,
		Sessions: store.NewJWTSessionStore(key, store.JWTConfig{Revoker: store.NewMemoryTokenRevoker()}),
		Broker:   broker,
		Events:   pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &testEnv{app: a, store: s, broker: broker, events: pub}
}

func (e *testEnv) signUp(t *testing.T, email, name string) (context.Context, AuthResult) {
	t.Helper()
	res, err := e.app.Auth.SignUp(context.Background(), SignUpInput{Email: email, Password: testPassword, FullName: name})
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return WithUserID(context.Background(), res.Profile.ID), res
}

func fieldError(t *testing.T, err error, field string) {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := verr.Fields[field]; !ok {
		t.Fatalf("expected %q field error, got %v", field, verr.Fields)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestAuthLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	unsubscribe := env.app.Auth.OnAuthStateChange(func(ev AuthEvent) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	res, err := env.app.Auth.SignUp(ctx, SignUpInput{Email: "  Maya@UFL.edu ", Password: testPassword, FullName: "<b>Maya</b> Chen"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if res.Profile.Email != "maya@ufl.edu" || res.Profile.FullName != "Maya Chen" {
		t.Fatalf("unexpected profile: %+v", res.Profile)
	}
	if res.Profile.University != defaultUniversity {
		t.Fatalf("expected default university, got %q", res.Profile.University)
	}
	if res.Session.AccessToken == "" || res.Session.UserID != res.Profile.ID {
		t.Fatalf("unexpected session: %+v", res.Session)
	}

	if _, err := env.app.Auth.SignUp(ctx, SignUpInput{Email: "maya@ufl.edu", Password: testPassword, FullName: "Again"}); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
	_, err = env.app.Auth.SignUp(ctx, SignUpInput{Email: "weak@ufl.edu", Password: "short", FullName: "Weak"})
	fieldError(t, err, "password")

	if _, err := env.app.Auth.SignIn(ctx, "maya@ufl.edu", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := env.app.Auth.SignIn(ctx, "nobody@ufl.edu", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
	signedIn, err := env.app.Auth.SignIn(ctx, "MAYA@ufl.edu", testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	sess, err := env.app.Auth.GetSession(ctx, signedIn.Session.AccessToken)
	if err != nil || sess.UserID != res.Profile.ID {
		t.Fatalf("get session: %+v err=%v", sess, err)
	}
	if err := env.app.Auth.SignOut(ctx, signedIn.Session.AccessToken); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := env.app.Auth.GetSession(ctx, signedIn.Session.AccessToken); !errors.Is(err, ErrNoAuthenticatedUser) {
		t.Fatalf("expected revoked session to be rejected, got %v", err)
	}
	if _, err := env.app.Auth.GetSession(ctx, res.Session.AccessToken); err != nil {
		t.Fatalf("sign-up session should survive: %v", err)
	}

	unsubscribe()
	unsubscribe()
	if _, err := env.app.Auth.SignIn(ctx, "maya@ufl.edu", testPassword); err != nil {
		t.Fatalf("sign in after unsubscribe: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{AuthSignedIn, AuthSignedIn, AuthSignedOut}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, seen)
	}
}

func TestSignInRejectsDisabledUser(t *testing.T) {
	env := newTestEnv(t, nil)
	_, res := env.signUp(t, "disabled@ufl.edu", "Dee")
	if err := env.store.DB().Table("users").Where("id = ?", res.Profile.ID).Update("status", string(domain.StatusDisabled)).Error; err != nil {
		t.Fatalf("disable user: %v", err)
	}
	if _, err := env.app.Auth.SignIn(context.Background(), "disabled@ufl.edu", testPassword); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected disabled error, got %v", err)
	}
	if _, err := env.app.Auth.GetSession(context.Background(), res.Session.AccessToken); !errors.Is(err, ErrNoAuthenticatedUser) {
		t.Fatalf("expected disabled user's session to be rejected, got %v", err)
	}
}

type countingStore struct {
	store.Store
	calls int
}

func (s *countingStore) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	s.calls++
	return domain.Profile{ID: id}, nil
}

func TestGetCurrentWithoutIdentityIssuesNoQuery(t *testing.T) {
	spy := &countingStore{}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	a, err := New(Config{Store: spy, Sessions: store.NewJWTSessionStore(key, store.JWTConfig{}), Broker: realtime.NewMemoryBroker()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.Profiles.GetCurrent(context.Background()); !errors.Is(err, ErrNoAuthenticatedUser) {
		t.Fatalf("expected no authenticated user, got %v", err)
	}
	if spy.calls != 0 {
		t.Fatalf("expected no store calls, got %d", spy.calls)
	}
	got, err := a.Profiles.GetCurrent(WithUserID(context.Background(), "u-1"))
	if err != nil || got.ID != "u-1" || spy.calls != 1 {
		t.Fatalf("expected one lookup for u-1, got %+v calls=%d err=%v", got, spy.calls, err)
	}
}

func TestProfileUpdateCurrentUserOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, _ := env.signUp(t, "pat@ufl.edu", "Pat")

	phone := " 352-555-0100 "
	updated, err := env.app.Profiles.Update(ctx, domain.ProfilePatch{Phone: &phone})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Phone != "352-555-0100" || updated.FullName != "Pat" {
		t.Fatalf("unexpected profile: %+v", updated)
	}
	empty := "  "
	_, err = env.app.Profiles.Update(ctx, domain.ProfilePatch{FullName: &empty})
	fieldError(t, err, "full_name")
	if _, err := env.app.Profiles.Update(context.Background(), domain.ProfilePatch{Phone: &phone}); !errors.Is(err, ErrNoAuthenticatedUser) {
		t.Fatalf("expected no authenticated user, got %v", err)
	}
}

func TestCreateTaskValidatesAndCountsPosts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, res := env.signUp(t, "poster@ufl.edu", "Poster")

	_, err := env.app.Tasks.Create(ctx, domain.TaskInput{Title: "Coffee", Category: "Food", Price: decimal.Zero})
	fieldError(t, err, "price")
	_, err = env.app.Tasks.Create(ctx, domain.TaskInput{Title: " ", Category: "Food", Price: decimal.NewFromInt(3)})
	fieldError(t, err, "title")
	if _, err := env.app.Tasks.Create(ctx, domain.TaskInput{Title: "x", Category: "Food", Price: decimal.NewFromInt(3), PosterID: "someone-else"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for foreign poster, got %v", err)
	}

	task, err := env.app.Tasks.Create(ctx, domain.TaskInput{
		Title:       "<script>alert(1)</script>Coffee <b>run</b>",
		Description: "Grande latte\n\n\nfrom Starbucks",
		Category:    "Food",
		Price:       decimal.RequireFromString("5.50"),
		Location:    "Marston Library",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Title != "Coffee run" || task.Description != "Grande latte\n\nfrom Starbucks" {
		t.Fatalf("expected sanitized text, got %q / %q", task.Title, task.Description)
	}
	if task.Status != domain.TaskOpen || task.AssigneeID != nil || task.Urgency != domain.UrgencyMedium {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if task.PosterID != res.Profile.ID {
		t.Fatalf("expected poster from context, got %q", task.PosterID)
	}
	profile, err := env.app.Profiles.Get(ctx, res.Profile.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.TasksPosted != 1 {
		t.Fatalf("expected tasks_posted=1, got %d", profile.TasksPosted)
	}
	if !env.events.has("task.created") {
		t.Fatalf("expected task.created event")
	}
}

func TestUpdateTaskRules(t *testing.T) {
	env := newTestEnv(t, nil)
	posterCtx, _ := env.signUp(t, "poster@ufl.edu", "Poster")
	helperCtx, helper := env.signUp(t, "helper@ufl.edu", "Helper")
	task, err := env.app.Tasks.Create(posterCtx, domain.TaskInput{Title: "Print notes", Category: "Academic", Price: decimal.NewFromInt(4)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	assignee := helper.Profile.ID
	_, err = env.app.Tasks.Update(posterCtx, task.ID, domain.TaskPatch{AssigneeID: &assignee})
	fieldError(t, err, "assignee_id")

	title := "Print lecture notes"
	if _, err := env.app.Tasks.Update(helperCtx, task.ID, domain.TaskPatch{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-party, got %v", err)
	}
	updated, err := env.app.Tasks.Update(posterCtx, task.ID, domain.TaskPatch{Title: &title})
	if err != nil || updated.Title != title {
		t.Fatalf("update title: %+v err=%v", updated, err)
	}
	if _, err := env.app.Tasks.Update(posterCtx, "missing", domain.TaskPatch{Title: &title}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := env.app.Tasks.Remove(helperCtx, task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden remove, got %v", err)
	}
	if err := env.app.Tasks.Remove(posterCtx, task.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.app.Tasks.Get(posterCtx, task.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected removed task to be gone, got %v", err)
	}
	if !env.events.has("task.deleted") {
		t.Fatalf("expected task.deleted event")
	}
}

func TestCoffeeRunMarketplaceFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	posterCtx, poster := env.signUp(t, "maya@ufl.edu", "Maya")
	helperCtx, helper := env.signUp(t, "jordan@ufl.edu", "Jordan")
	otherCtx, _ := env.signUp(t, "sam@ufl.edu", "Sam")

	task, err := env.app.Tasks.Create(posterCtx, domain.TaskInput{
		Title:    "Coffee Run",
		Category: "Food",
		Price:    decimal.RequireFromString("5.00"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := env.app.Applications.Apply(posterCtx, domain.ApplicationInput{TaskID: task.ID}); err == nil {
		t.Fatalf("poster should not apply to own task")
	}
	application, err := env.app.Applications.Apply(helperCtx, domain.ApplicationInput{TaskID: task.ID, Message: "On my way to Starbucks"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := env.app.Applications.Apply(helperCtx, domain.ApplicationInput{TaskID: task.ID}); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected duplicate application error, got %v", err)
	}
	competing, err := env.app.Applications.Apply(otherCtx, domain.ApplicationInput{TaskID: task.ID})
	if err != nil {
		t.Fatalf("competing apply: %v", err)
	}
	if _, err := env.app.Applications.ListForTask(helperCtx, task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected only poster to list applications, got %v", err)
	}
	if _, err := env.app.Applications.Accept(helperCtx, application.ID, helper.Profile.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden accept, got %v", err)
	}

	assigned, err := env.app.Applications.Accept(posterCtx, application.ID, poster.Profile.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if assigned.Status != domain.TaskAssigned || assigned.AssigneeID == nil || *assigned.AssigneeID != helper.Profile.ID {
		t.Fatalf("unexpected assigned task: %+v", assigned)
	}
	apps, err := env.app.Applications.ListForTask(posterCtx, task.ID)
	if err != nil {
		t.Fatalf("list applications: %v", err)
	}
	statuses := map[string]domain.ApplicationStatus{}
	for _, a := range apps {
		statuses[a.ID] = a.Status
	}
	if statuses[application.ID] != domain.ApplicationAccepted || statuses[competing.ID] != domain.ApplicationRejected {
		t.Fatalf("unexpected application statuses: %v", statuses)
	}
	if n, _ := env.app.Notifications.UnreadCount(helperCtx, helper.Profile.ID); n != 1 {
		t.Fatalf("expected assignment notification, got %d unread", n)
	}

	if _, err := env.app.Tasks.Complete(helperCtx, task.ID, helper.Profile.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected only poster to complete, got %v", err)
	}
	if _, err := env.app.Reviews.Create(posterCtx, domain.ReviewInput{TaskID: task.ID, Rating: 5}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected review before completion to fail, got %v", err)
	}
	done, err := env.app.Tasks.Complete(posterCtx, task.ID, poster.Profile.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.TaskCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if _, err := env.app.Tasks.Complete(posterCtx, task.ID, poster.Profile.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second completion to fail, got %v", err)
	}

	helperProfile, err := env.app.Profiles.Get(helperCtx, helper.Profile.ID)
	if err != nil {
		t.Fatalf("get helper: %v", err)
	}
	if helperProfile.TasksCompleted != 1 || !helperProfile.TotalEarnings.Equal(decimal.RequireFromString("5.00")) {
		t.Fatalf("unexpected helper stats: %+v", helperProfile)
	}
	summary, err := env.app.Transactions.Summary(helperCtx, helper.Profile.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Earned.Equal(decimal.NewFromInt(5)) || !summary.Spent.IsZero() {
		t.Fatalf("unexpected helper wallet: %+v", summary)
	}
	posterSummary, err := env.app.Transactions.Summary(posterCtx, poster.Profile.ID)
	if err != nil || !posterSummary.Spent.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected poster wallet: %+v err=%v", posterSummary, err)
	}
	if _, err := env.app.Transactions.ListForUser(helperCtx, poster.Profile.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected foreign wallet to be forbidden, got %v", err)
	}

	_, err = env.app.Reviews.Create(posterCtx, domain.ReviewInput{TaskID: task.ID, Rating: 6})
	fieldError(t, err, "rating")
	if _, err := env.app.Reviews.Create(otherCtx, domain.ReviewInput{TaskID: task.ID, Rating: 3}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected non-party review to be forbidden, got %v", err)
	}
	review, err := env.app.Reviews.Create(posterCtx, domain.ReviewInput{TaskID: task.ID, Rating: 4, Comment: "Fast!"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if review.RevieweeID != helper.Profile.ID || review.ReviewType != domain.ReviewPosterToAssignee {
		t.Fatalf("unexpected review: %+v", review)
	}
	if _, err := env.app.Reviews.Create(posterCtx, domain.ReviewInput{TaskID: task.ID, Rating: 5}); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected duplicate review error, got %v", err)
	}
	rated, err := env.app.Profiles.Get(helperCtx, helper.Profile.ID)
	if err != nil || rated.Rating != 4 {
		t.Fatalf("expected rating 4, got %+v err=%v", rated, err)
	}
	for _, key := range []string{"task.assigned", "task.completed", "review.created"} {
		if !env.events.has(key) {
			t.Fatalf("expected %s event", key)
		}
	}
}

func TestWithdrawApplication(t *testing.T) {
	env := newTestEnv(t, nil)
	posterCtx, _ := env.signUp(t, "poster@ufl.edu", "Poster")
	helperCtx, helper := env.signUp(t, "helper@ufl.edu", "Helper")
	task, err := env.app.Tasks.Create(posterCtx, domain.TaskInput{Title: "Move couch", Category: "Moving", Price: decimal.NewFromInt(20)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	application, err := env.app.Applications.Apply(helperCtx, domain.ApplicationInput{TaskID: task.ID})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	withdrawn, err := env.app.Applications.Withdraw(helperCtx, application.ID, helper.Profile.ID)
	if err != nil || withdrawn.Status != domain.ApplicationWithdrawn {
		t.Fatalf("withdraw: %+v err=%v", withdrawn, err)
	}
	if _, err := env.app.Applications.Withdraw(helperCtx, application.ID, helper.Profile.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second withdraw to fail, got %v", err)
	}
	mine, err := env.app.Applications.ListForApplicant(helperCtx, helper.Profile.ID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected one application, got %d err=%v", len(mine), err)
	}
}

func TestMessagesSendAndSubscribe(t *testing.T) {
	env := newTestEnv(t, nil)
	posterCtx, poster := env.signUp(t, "poster@ufl.edu", "Poster")
	_, helper := env.signUp(t, "helper@ufl.edu", "Helper")
	task, err := env.app.Tasks.Create(posterCtx, domain.TaskInput{Title: "Coffee Run", Category: "Food", Price: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	received := make(chan domain.Message, 1)
	sub, err := env.app.Messages.Subscribe(posterCtx, task.ID, func(m domain.Message) { received <- m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	_, err = env.app.Messages.Send(posterCtx, domain.MessageInput{TaskID: task.ID, ReceiverID: poster.Profile.ID, Content: "hi"})
	fieldError(t, err, "receiver_id")
	_, err = env.app.Messages.Send(posterCtx, domain.MessageInput{TaskID: task.ID, ReceiverID: helper.Profile.ID, Content: "<p></p>"})
	fieldError(t, err, "content")

	sent, err := env.app.Messages.Send(posterCtx, domain.MessageInput{TaskID: task.ID, ReceiverID: helper.Profile.ID, Content: "Oat milk please"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.SenderID != poster.Profile.ID || sent.Sender == nil || sent.Sender.FullName != "Poster" {
		t.Fatalf("expected expanded sender, got %+v", sent)
	}

	select {
	case got := <-received:
		if got.ID != sent.ID || got.Content != "Oat milk please" {
			t.Fatalf("unexpected realtime row: %+v", got)
		}
		if got.Sender != nil || got.Receiver != nil {
			t.Fatalf("expected raw row without relations, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for realtime message")
	}

	if err := env.app.Messages.MarkRead(context.Background(), sent.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	list, err := env.app.Messages.ListForTask(posterCtx, task.ID)
	if err != nil || len(list) != 1 || list[0].ReadAt == nil {
		t.Fatalf("expected one read message, got %+v err=%v", list, err)
	}
	if !env.events.has("message.sent") {
		t.Fatalf("expected message.sent event")
	}
}

type failingBroker struct {
	realtime.Broker
}

func (failingBroker) Publish(context.Context, string, realtime.Event) error {
	return errors.New("redis down")
}

func TestSendSurvivesPublishFailure(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Broker = failingBroker{Broker: cfg.Broker} })
	posterCtx, _ := env.signUp(t, "poster@ufl.edu", "Poster")
	_, helper := env.signUp(t, "helper@ufl.edu", "Helper")
	task, err := env.app.Tasks.Create(posterCtx, domain.TaskInput{Title: "Coffee Run", Category: "Food", Price: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.app.Messages.Send(posterCtx, domain.MessageInput{TaskID: task.ID, ReceiverID: helper.Profile.ID, Content: "hello"}); err != nil {
		t.Fatalf("expected send to succeed despite publish failure, got %v", err)
	}
}

func TestReduceConversations(t *testing.T) {
	base := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	me := "me"
	msg := func(id, task, from, to string, minutes int, read bool) domain.Message {
		m := domain.Message{
			ID: id, TaskID: task, SenderID: from, ReceiverID: to,
			CreatedAt: base.Add(time.Duration(minutes) * time.Minute),
			Sender:    &domain.ProfileSummary{ID: from, FullName: strings.ToUpper(from)},
			Receiver:  &domain.ProfileSummary{ID: to, FullName: strings.ToUpper(to)},
			Task:      &domain.TaskSummary{ID: task, Title: "task " + task},
		}
		if read {
			at := m.CreatedAt
			m.ReadAt = &at
		}
		return m
	}
	// newest first, as the store returns them
	msgs := []domain.Message{
		msg("m6", "t2", me, "bob", 6, false),
		msg("m5", "t1", "ann", me, 5, false),
		msg("m4", "t3", "cat", me, 4, true),
		msg("m3", "t1", "ann", me, 3, false),
		msg("m2", "t2", "bob", me, 2, false),
		msg("m1", "t1", me, "ann", 1, false),
	}
	convs := reduceConversations(me, msgs)
	if len(convs) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(convs))
	}
	want := []struct {
		task, latest, other string
		unread              int
	}{
		{"t2", "m6", "bob", 1},
		{"t1", "m5", "ann", 2},
		{"t3", "m4", "cat", 0},
	}
	for i, w := range want {
		c := convs[i]
		if c.TaskID != w.task || c.LatestMessage.ID != w.latest || c.OtherUser.ID != w.other || c.UnreadCount != w.unread {
			t.Fatalf("conversation %d: expected %+v, got task=%s latest=%s other=%s unread=%d",
				i, w, c.TaskID, c.LatestMessage.ID, c.OtherUser.ID, c.UnreadCount)
		}
	}
	if convs[0].Task == nil || convs[0].Task.Title != "task t2" {
		t.Fatalf("expected task summary on conversation, got %+v", convs[0].Task)
	}

	bare := []domain.Message{{ID: "x", TaskID: "t9", SenderID: "zed", ReceiverID: me}}
	if got := reduceConversations(me, bare); got[0].OtherUser == nil || got[0].OtherUser.ID != "zed" {
		t.Fatalf("expected fallback other user, got %+v", got[0].OtherUser)
	}
	if got := reduceConversations(me, nil); len(got) != 0 {
		t.Fatalf("expected no conversations, got %d", len(got))
	}
}

func TestListConversationsFor(t *testing.T) {
	env := newTestEnv(t, nil)
	posterCtx, poster := env.signUp(t, "poster@ufl.edu", "Poster")
	helperCtx, helper := env.signUp(t, "helper@ufl.edu", "Helper")
	for _, title := range []string{"Coffee Run", "Laundry", "Groceries"} {
		task, err := env.app.Tasks.Create(posterCtx, domain.TaskInput{Title: title, Category: "Food", Price: decimal.NewFromInt(5)})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := env.app.Messages.Send(helperCtx, domain.MessageInput{TaskID: task.ID, ReceiverID: poster.Profile.ID, Content: "I can do " + title}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	convs, err := env.app.Messages.ListConversationsFor(posterCtx, poster.Profile.ID)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(convs))
	}
	for _, c := range convs {
		if c.OtherUser.ID != helper.Profile.ID || c.UnreadCount != 1 {
			t.Fatalf("unexpected conversation: %+v", c)
		}
	}
	if _, err := env.app.Messages.ListConversationsFor(helperCtx, poster.Profile.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected foreign conversations to be forbidden, got %v", err)
	}
}

func TestNotificationsIsolationAndRealtime(t *testing.T) {
	env := newTestEnv(t, nil)
	aCtx, a := env.signUp(t, "a@ufl.edu", "A")
	bCtx, b := env.signUp(t, "b@ufl.edu", "B")
	ctx := context.Background()

	received := make(chan domain.Notification, 4)
	sub, err := env.app.Notifications.Subscribe(aCtx, a.Profile.ID, func(n domain.Notification) { received <- n })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if _, err := env.app.Notifications.Subscribe(bCtx, a.Profile.ID, func(domain.Notification) {}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected foreign subscribe to be forbidden, got %v", err)
	}

	for _, userID := range []string{a.Profile.ID, a.Profile.ID, b.Profile.ID} {
		if _, err := env.app.Notifications.Create(ctx, domain.NotificationInput{UserID: userID, Type: domain.NotifySystem, Title: "Welcome", Metadata: map[string]any{"k": "v"}}); err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}
	_, err = env.app.Notifications.Create(ctx, domain.NotificationInput{UserID: a.Profile.ID, Type: "bogus", Title: "x"})
	fieldError(t, err, "type")

	for i := 0; i < 2; i++ {
		select {
		case n := <-received:
			if n.UserID != a.Profile.ID {
				t.Fatalf("received foreign notification %+v", n)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notification %d", i)
		}
	}

	if err := env.app.Notifications.MarkAllRead(bCtx, a.Profile.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected foreign mark-all to be forbidden, got %v", err)
	}
	if err := env.app.Notifications.MarkAllRead(aCtx, a.Profile.ID); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if n, _ := env.app.Notifications.UnreadCount(aCtx, a.Profile.ID); n != 0 {
		t.Fatalf("expected a to have 0 unread, got %d", n)
	}
	if n, _ := env.app.Notifications.UnreadCount(bCtx, b.Profile.ID); n != 1 {
		t.Fatalf("expected b to keep 1 unread, got %d", n)
	}

	list, err := env.app.Notifications.ListForUser(bCtx, b.Profile.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list for b: %d err=%v", len(list), err)
	}
	if err := env.app.Notifications.MarkRead(aCtx, list[0].ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected marking b's notification as a to be forbidden, got %v", err)
	}
	if err := env.app.Notifications.MarkRead(bCtx, list[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
}

func TestImageUploads(t *testing.T) {
	files, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/uploads")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Objects = files
		cfg.MaxImageBytes = 16
	})
	posterCtx, poster := env.signUp(t, "poster@ufl.edu", "Poster")
	helperCtx, helper := env.signUp(t, "helper@ufl.edu", "Helper")
	task, err := env.app.Tasks.Create(posterCtx, domain.TaskInput{Title: "Coffee Run", Category: "Food", Price: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	body := "fake-png"
	updated, err := env.app.Tasks.SetImage(posterCtx, task.ID, poster.Profile.ID, "cup.png", strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("set image: %v", err)
	}
	if updated.ImageURL != "http://localhost:8080/uploads/tasks/"+task.ID+"/cup.png" {
		t.Fatalf("unexpected image url %q", updated.ImageURL)
	}
	if _, err := env.app.Tasks.SetImage(helperCtx, task.ID, helper.Profile.ID, "cup.png", strings.NewReader(body), int64(len(body))); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden upload, got %v", err)
	}
	_, err = env.app.Tasks.SetImage(posterCtx, task.ID, poster.Profile.ID, "notes.exe", strings.NewReader(body), int64(len(body)))
	fieldError(t, err, "file")
	big := strings.Repeat("x", 17)
	_, err = env.app.Profiles.SetAvatar(helperCtx, "me.jpg", strings.NewReader(big), int64(len(big)))
	fieldError(t, err, "file")

	profile, err := env.app.Profiles.SetAvatar(helperCtx, "me.jpg", strings.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("set avatar: %v", err)
	}
	if !strings.HasSuffix(profile.AvatarURL, "/avatars/"+helper.Profile.ID+"/me.jpg") {
		t.Fatalf("unexpected avatar url %q", profile.AvatarURL)
	}
}

func TestImageUploadsRequireStorage(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, _ := env.signUp(t, "poster@ufl.edu", "Poster")
	if _, err := env.app.Profiles.SetAvatar(ctx, "me.jpg", strings.NewReader("x"), 1); !errors.Is(err, ErrStorageDisabled) {
		t.Fatalf("expected storage disabled, got %v", err)
	}
}

func TestPlainText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  plain   text ", "plain text"},
		{"<b>bold</b> &amp; <i>it</i>", "bold & it"},
		{"<style>p{}</style>visible", "visible"},
		{"a < b", "a < b"},
	}
	for _, tc := range cases {
		if got := plainText(tc.in); got != tc.want {
			t.Fatalf("plainText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := plainTextLines("line one\n\n\n\nline   two"); got != "line one\n\nline two" {
		t.Fatalf("unexpected multi-line text %q", got)
	}
}
