package dispute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"rentflow/evidence"
)

// memRepo enforces the same guards the SQL does, against in-memory state.
type memRepo struct {
	mu       sync.Mutex
	nextID   int
	disputes map[string]*Dispute
	byKey    map[string]Evidence
	outbox   []string
}

func newMemRepo() *memRepo {
	return &memRepo{
		disputes: make(map[string]*Dispute),
		byKey:    make(map[string]Evidence),
	}
}

func (r *memRepo) id() string {
	r.nextID++
	return fmt.Sprintf("id-%d", r.nextID)
}

func (r *memRepo) CreateTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := time.Now().Add(EvidenceWindow)
	d := Dispute{
		ID:            r.id(),
		BookingID:     params.BookingID,
		Category:      params.Category,
		Flow:          params.Flow,
		Description:   params.Description,
		OpenedBy:      params.OpenedBy,
		Status:        StatusIntakeMissingEvidence,
		EvidenceDueAt: &due,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	r.disputes[d.ID] = &d
	r.outbox = append(r.outbox, TopicDisputeOpened)
	return d, nil
}

func (r *memRepo) Get(ctx context.Context, disputeID string) (Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[disputeID]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return *d, nil
}

func (r *memRepo) InsertMessage(ctx context.Context, tx pgx.Tx, disputeID string, role Role, actorID *string, text string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[disputeID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if WriteLocked(d.Status) {
		return Message{}, ErrWriteLocked
	}
	m := Message{ID: r.id(), Role: role, ActorID: actorID, Text: text, CreatedAt: time.Now()}
	d.Messages = append(d.Messages, m)
	r.outbox = append(r.outbox, TopicDisputeMessageCreated)
	return m, nil
}

func (r *memRepo) InsertEvidence(ctx context.Context, tx pgx.Tx, disputeID string, params EvidenceParams) (Evidence, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[disputeID]
	if !ok {
		return Evidence{}, false, ErrNotFound
	}
	if existing, dup := r.byKey[params.S3Key]; dup {
		return existing, false, nil
	}
	if WriteLocked(d.Status) {
		return Evidence{}, false, ErrWriteLocked
	}
	e := Evidence{
		ID:             r.id(),
		Kind:           params.Kind,
		Filename:       params.Filename,
		ContentType:    params.ContentType,
		Size:           params.Size,
		IntegrityToken: params.IntegrityToken,
		AVStatus:       AVPending,
		S3Key:          params.S3Key,
		CreatedAt:      time.Now(),
	}
	d.Evidence = append(d.Evidence, e)
	r.byKey[params.S3Key] = e
	if d.Status == StatusIntakeMissingEvidence {
		d.Status = StatusAwaitingRebuttal
		due := time.Now().Add(RebuttalWindow)
		d.RebuttalDueAt = &due
	}
	r.outbox = append(r.outbox, TopicDisputeEvidenceSubmitted)
	return e, true, nil
}

func (r *memRepo) CloseTx(ctx context.Context, tx pgx.Tx, disputeID, actorID string) (Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[disputeID]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	if WriteLocked(d.Status) {
		return Dispute{}, ErrWriteLocked
	}
	if d.OpenedBy != actorID {
		return Dispute{}, ErrForbidden
	}
	d.Status = StatusClosedByOpener
	r.outbox = append(r.outbox, TopicDisputeClosed)
	return *d, nil
}

func (r *memRepo) ResolveTx(ctx context.Context, tx pgx.Tx, disputeID string, outcome Status, actorID string) (Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.disputes[disputeID]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	if WriteLocked(d.Status) {
		return Dispute{}, ErrBadStatus
	}
	d.Status = outcome
	r.outbox = append(r.outbox, TopicDisputeResolved)
	return *d, nil
}

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

func newTestService(repo Repo) (*Service, *fakePool) {
	pool := &fakePool{}
	return NewService(pool, repo), pool
}

func mustCreate(t *testing.T, svc *Service, opener string) Dispute {
	t.Helper()
	d, err := svc.Create(context.Background(), CreateParams{
		BookingID:   "bk-1",
		OpenedBy:    opener,
		Category:    CategoryDamage,
		Flow:        evidence.FlowBrokeDuringUse,
		Description: "drill bit snapped during normal use",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return d
}

func TestCreate_Validation(t *testing.T) {
	svc, pool := newTestService(newMemRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{
		BookingID: "bk-1", OpenedBy: "u-1", Category: CategoryDamage, Description: "short",
	})
	if !errors.Is(err, ErrDescriptionTooShort) {
		t.Fatalf("expected short-description rejection, got %v", err)
	}

	_, err = svc.Create(ctx, CreateParams{
		BookingID: "bk-1", OpenedBy: "u-1", Category: "vibes", Description: "a perfectly long description",
	})
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected category rejection, got %v", err)
	}

	if len(pool.txs) != 0 {
		t.Fatal("validation failures must not open a transaction")
	}
}

func TestCreate_InitialState(t *testing.T) {
	svc, pool := newTestService(newMemRepo())
	d := mustCreate(t, svc, "u-1")
	if d.Status != StatusIntakeMissingEvidence {
		t.Fatalf("expected intake state, got %q", d.Status)
	}
	if d.EvidenceDueAt == nil {
		t.Fatal("expected evidence deadline set on creation")
	}
	if len(pool.txs) != 1 || !pool.txs[0].committed {
		t.Fatal("expected committed transaction")
	}
}

func TestAppendMessage_EchoAndLock(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	d := mustCreate(t, svc, "u-1")

	m, err := svc.AppendMessage(ctx, d.ID, "u-1", RoleRenter, "the chuck was already loose")
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatal("expected server-echoed message with id and timestamp")
	}

	if _, err := svc.AppendMessage(ctx, d.ID, "u-1", RoleRenter, ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected empty-message rejection, got %v", err)
	}
}

func TestWriteLock_Idempotent(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	d := mustCreate(t, svc, "u-1")

	if _, err := svc.Resolve(ctx, d.ID, StatusResolvedOwner, "admin-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	before, _ := svc.Retrieve(ctx, d.ID)
	for i := 0; i < 3; i++ {
		if _, err := svc.AppendMessage(ctx, d.ID, "u-1", RoleRenter, "hello"); !errors.Is(err, ErrWriteLocked) {
			t.Fatalf("attempt %d: expected write-lock rejection for message, got %v", i, err)
		}
		_, err := svc.RegisterEvidence(ctx, d.ID, EvidenceParams{
			Kind: evidence.KindPhoto, Filename: "x.jpg", S3Key: fmt.Sprintf("k-%d", i), IntegrityToken: "t",
		})
		if !errors.Is(err, ErrWriteLocked) {
			t.Fatalf("attempt %d: expected write-lock rejection for evidence, got %v", i, err)
		}
		if _, err := svc.Close(ctx, d.ID, "u-1"); !errors.Is(err, ErrWriteLocked) {
			t.Fatalf("attempt %d: expected write-lock rejection for close, got %v", i, err)
		}
	}
	after, _ := svc.Retrieve(ctx, d.ID)

	if before.Status != after.Status || len(before.Messages) != len(after.Messages) || len(before.Evidence) != len(after.Evidence) {
		t.Fatal("locked dispute must not change under repeated rejected attempts")
	}
}

func TestClose_OpenerOnly(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	d := mustCreate(t, svc, "u-1")

	if _, err := svc.Close(ctx, d.ID, "u-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected non-opener rejection, got %v", err)
	}
	got, _ := svc.Retrieve(ctx, d.ID)
	if got.Status != StatusIntakeMissingEvidence {
		t.Fatal("failed close must not mutate status")
	}

	closed, err := svc.Close(ctx, d.ID, "u-1")
	if err != nil {
		t.Fatalf("opener close: %v", err)
	}
	if closed.Status != StatusClosedByOpener || !closed.Locked() {
		t.Fatalf("expected locked opener-closed state, got %q", closed.Status)
	}
}

func TestRegisterEvidence_IdempotentOnStorageKey(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	d := mustCreate(t, svc, "u-1")

	params := EvidenceParams{
		Kind: evidence.KindVideo, Filename: "clip.mp4", ContentType: "video/mp4",
		Size: 100, S3Key: "disputes/bk-1/clip.mp4", IntegrityToken: "etag-1",
	}
	first, err := svc.RegisterEvidence(ctx, d.ID, params)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := svc.RegisterEvidence(ctx, d.ID, params)
	if err != nil {
		t.Fatalf("duplicate register: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("duplicate completion must return the existing record")
	}

	got, _ := svc.Retrieve(ctx, d.ID)
	if len(got.Evidence) != 1 {
		t.Fatalf("expected exactly one evidence record, got %d", len(got.Evidence))
	}
	notifications := 0
	for _, topic := range repo.outbox {
		if topic == TopicDisputeEvidenceSubmitted {
			notifications++
		}
	}
	if notifications != 1 {
		t.Fatalf("duplicate completion must not re-notify, got %d notifications", notifications)
	}
}

func TestRegisterEvidence_RetryAfterResolve(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	d := mustCreate(t, svc, "u-1")

	params := EvidenceParams{
		Kind: evidence.KindPhoto, Filename: "dent.jpg", S3Key: "disputes/bk-1/dent.jpg", IntegrityToken: "t",
	}
	first, err := svc.RegisterEvidence(ctx, d.ID, params)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Resolve(ctx, d.ID, StatusResolvedRenter, "admin-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A retried completion of an already-registered key stays a no-op
	// even once the dispute locks; only new keys are rejected.
	retry, err := svc.RegisterEvidence(ctx, d.ID, params)
	if err != nil {
		t.Fatalf("retried completion after resolve: %v", err)
	}
	if retry.ID != first.ID {
		t.Fatal("retried completion must return the existing record")
	}
	if _, err := svc.RegisterEvidence(ctx, d.ID, EvidenceParams{
		Kind: evidence.KindPhoto, Filename: "late.jpg", S3Key: "disputes/bk-1/late.jpg", IntegrityToken: "t",
	}); !errors.Is(err, ErrWriteLocked) {
		t.Fatalf("expected write-lock rejection for a new key, got %v", err)
	}
}

func TestRegisterEvidence_AdvancesIntake(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	d := mustCreate(t, svc, "u-1")

	_, err := svc.RegisterEvidence(ctx, d.ID, EvidenceParams{
		Kind: evidence.KindPhoto, Filename: "a.jpg", S3Key: "k-a", IntegrityToken: "t",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got, _ := svc.Retrieve(ctx, d.ID)
	if got.Status != StatusAwaitingRebuttal {
		t.Fatalf("first evidence should advance intake, got %q", got.Status)
	}
	if got.RebuttalDueAt == nil {
		t.Fatal("expected rebuttal deadline after first evidence")
	}
}

func TestRetrieve_NotFound(t *testing.T) {
	svc, _ := newTestService(newMemRepo())
	if _, err := svc.Retrieve(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
