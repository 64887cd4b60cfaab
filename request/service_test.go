package request

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRepo struct {
	requests map[string]BookingRequest
	owners   map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		requests: make(map[string]BookingRequest),
		owners:   make(map[string]string),
	}
}

func (f *fakeRepo) ListForTool(ctx context.Context, toolID, ownerID string) ([]BookingRequest, error) {
	if f.owners[toolID] != ownerID {
		return nil, ErrToolNotOwned
	}
	out := []BookingRequest{}
	for _, r := range f.requests {
		if r.ToolID == toolID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) Create(ctx context.Context, params CreateParams) (BookingRequest, error) {
	if params.RenterID == "" {
		return BookingRequest{}, ErrRenterMandatory
	}
	if !params.EndStored.After(params.Start) {
		return BookingRequest{}, ErrInvalidRange
	}
	for _, r := range f.requests {
		if r.ToolID == params.ToolID && r.RenterID == params.RenterID && r.Start.Equal(params.Start) {
			return BookingRequest{}, ErrDuplicate
		}
	}
	req := BookingRequest{
		ID:        "req-" + params.ToolID,
		ToolID:    params.ToolID,
		RenterID:  params.RenterID,
		State:     StatePending,
		Message:   params.Message,
		Start:     params.Start,
		EndStored: params.EndStored,
		CreatedAt: time.Now().UTC(),
	}
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeRepo) ListForRenter(ctx context.Context, renterID string) ([]BookingRequest, error) {
	out := []BookingRequest{}
	for _, r := range f.requests {
		if r.RenterID == renterID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, requestID string) (BookingRequest, error) {
	r, ok := f.requests[requestID]
	if !ok {
		return BookingRequest{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeRepo) UpdateState(ctx context.Context, requestID string, state State) (BookingRequest, error) {
	r, ok := f.requests[requestID]
	if !ok {
		return BookingRequest{}, ErrNotFound
	}
	r.State = state
	f.requests[requestID] = r
	return r, nil
}

func (f *fakeRepo) ToolOwner(ctx context.Context, toolID string) (string, error) {
	owner, ok := f.owners[toolID]
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func seedRequest(t *testing.T, repo *fakeRepo) BookingRequest {
	t.Helper()
	repo.owners["tool-1"] = "owner-1"
	req, err := repo.Create(context.Background(), CreateParams{
		ToolID:    "tool-1",
		RenterID:  "renter-1",
		Message:   "need it for the weekend",
		Start:     day(1),
		EndStored: day(4),
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return req
}

func TestCreate_Validation(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateParams{ToolID: "tool-1", Start: day(1), EndStored: day(4)}); !errors.Is(err, ErrRenterMandatory) {
		t.Fatalf("expected renter requirement, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateParams{ToolID: "tool-1", RenterID: "renter-1", Start: day(4), EndStored: day(1)}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected range guard, got %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	seedRequest(t, repo)

	_, err := svc.Create(context.Background(), CreateParams{
		ToolID: "tool-1", RenterID: "renter-1", Start: day(1), EndStored: day(4),
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate guard, got %v", err)
	}
}

func TestUpdateState_OwnerOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	req := seedRequest(t, repo)

	_, err := svc.UpdateState(context.Background(), UpdateParams{
		RequestID: req.ID, ActorID: "renter-1", NewState: StateAccepted,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
}

func TestUpdateState_InvalidTarget(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	req := seedRequest(t, repo)

	_, err := svc.UpdateState(context.Background(), UpdateParams{
		RequestID: req.ID, ActorID: "owner-1", NewState: StatePending,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected transition guard, got %v", err)
	}
}

func TestUpdateState_Decline(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	req := seedRequest(t, repo)
	ctx := context.Background()

	res, err := svc.UpdateState(ctx, UpdateParams{
		RequestID: req.ID, ActorID: "owner-1", NewState: StateDeclined,
	})
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if res.Request.State != StateDeclined {
		t.Fatalf("expected declined, got %s", res.Request.State)
	}

	// a second decline is a no-op, not an error
	res, err = svc.UpdateState(ctx, UpdateParams{
		RequestID: req.ID, ActorID: "owner-1", NewState: StateDeclined,
	})
	if err != nil {
		t.Fatalf("repeat decline: %v", err)
	}
	if res.Request.State != StateDeclined {
		t.Fatalf("expected declined, got %s", res.Request.State)
	}
}

func TestUpdateState_AcceptWithoutBookingRepo(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	req := seedRequest(t, repo)

	res, err := svc.UpdateState(context.Background(), UpdateParams{
		RequestID: req.ID, ActorID: "owner-1", NewState: StateAccepted,
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Request.State != StateAccepted {
		t.Fatalf("expected accepted, got %s", res.Request.State)
	}
	if res.Booking != nil {
		t.Fatal("no booking repository wired, result must carry no booking")
	}
}
