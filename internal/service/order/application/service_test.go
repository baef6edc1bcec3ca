package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"taphouse/internal/pkg/statemachine"
	"taphouse/internal/service/order/domain"
)

// memRepo 是 BeerOrderRepository 的内存实现，带与 MySQL 实现相同的版本语义。
type memRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.BeerOrder
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[uuid.UUID]*domain.BeerOrder)}
}

func (r *memRepo) Create(_ context.Context, order *domain.BeerOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order.ID = uuid.New()
	order.Version = 0
	for i := range order.Lines {
		if order.Lines[i].ID == uuid.Nil {
			order.Lines[i].ID = uuid.New()
		}
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.BeerOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(stored), nil
}

func (r *memRepo) Save(_ context.Context, order *domain.BeerOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return domain.ErrVersionConflict
	}
	order.Version++
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func cloneOrder(o *domain.BeerOrder) *domain.BeerOrder {
	c := *o
	c.Lines = append([]domain.BeerOrderLine(nil), o.Lines...)
	return &c
}

// fakeEmitters 同时实现三个出站端口，记录每条请求。
type fakeEmitters struct {
	mu                sync.Mutex
	validationReqs    []domain.BeerOrderSnapshot
	allocationReqs    []domain.BeerOrderSnapshot
	deallocationReqs  []domain.BeerOrderSnapshot
	failuresNotified  []string
	failedOrderIDs    []uuid.UUID
}

func (f *fakeEmitters) RequestValidation(_ context.Context, s domain.BeerOrderSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validationReqs = append(f.validationReqs, s)
	return nil
}

func (f *fakeEmitters) RequestAllocation(_ context.Context, s domain.BeerOrderSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocationReqs = append(f.allocationReqs, s)
	return nil
}

func (f *fakeEmitters) RequestDeallocation(_ context.Context, s domain.BeerOrderSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deallocationReqs = append(f.deallocationReqs, s)
	return nil
}

func (f *fakeEmitters) NotifyOrderFailed(_ context.Context, orderID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedOrderIDs = append(f.failedOrderIDs, orderID)
	f.failuresNotified = append(f.failuresNotified, reason)
	return nil
}

func newTestManager(t *testing.T) (*BeerOrderManager, *memRepo, *fakeEmitters) {
	t.Helper()
	repo := newMemRepo()
	emitters := &fakeEmitters{}
	tracer := noop.NewTracerProvider().Tracer("test")
	mgr := NewBeerOrderManager(repo, emitters, emitters, emitters, tracer, 3, time.Millisecond)
	return mgr, repo, emitters
}

func placeOrder(t *testing.T, mgr *BeerOrderManager, orderQty int) *domain.BeerOrder {
	t.Helper()
	order, err := domain.NewBeerOrder("customer-a", []domain.BeerOrderLine{
		{UPC: "0631234200036", OrderQuantity: orderQty},
	})
	require.NoError(t, err)
	placed, err := mgr.NewBeerOrder(context.Background(), order)
	require.NoError(t, err)
	return placed
}

func currentStatus(t *testing.T, repo *memRepo, id uuid.UUID) domain.OrderStatus {
	t.Helper()
	order, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func TestNewBeerOrderEmitsValidationRequest(t *testing.T) {
	mgr, repo, emitters := newTestManager(t)

	placed := placeOrder(t, mgr, 1)

	assert.NotEqual(t, uuid.Nil, placed.ID)
	assert.Equal(t, domain.StatusValidationPending, currentStatus(t, repo, placed.ID))
	require.Len(t, emitters.validationReqs, 1)
	assert.Equal(t, placed.ID, emitters.validationReqs[0].ID)
	assert.Empty(t, emitters.allocationReqs)
}

func TestHappyPathThroughAllocation(t *testing.T) {
	mgr, repo, emitters := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 1)

	require.NoError(t, mgr.ProcessValidationResult(ctx, placed.ID, true))
	assert.Equal(t, domain.StatusAllocationPending, currentStatus(t, repo, placed.ID))
	require.Len(t, emitters.allocationReqs, 1)

	lineID := emitters.allocationReqs[0].Lines[0].ID
	require.NoError(t, mgr.BeerOrderAllocationPassed(ctx, &domain.AllocateOrderResult{
		OrderID: placed.ID,
		Lines:   []domain.AllocatedLine{{LineID: lineID, QuantityAllocated: 1}},
	}))

	final, err := repo.FindByID(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAllocated, final.Status)
	assert.Equal(t, 1, final.Lines[0].QuantityAllocated)
	assert.Equal(t, final.Lines[0].OrderQuantity, final.Lines[0].QuantityAllocated)
}

func TestValidationFailedIsTerminal(t *testing.T) {
	mgr, repo, emitters := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 1)
	require.NoError(t, mgr.ProcessValidationResult(ctx, placed.ID, false))

	assert.Equal(t, domain.StatusValidationException, currentStatus(t, repo, placed.ID))
	assert.Empty(t, emitters.allocationReqs, "no allocation request may ever be emitted")
	require.Len(t, emitters.failuresNotified, 1)
	assert.Equal(t, placed.ID, emitters.failedOrderIDs[0])
}

func TestPendingInventoryThenCancel(t *testing.T) {
	mgr, repo, emitters := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 2)
	require.NoError(t, mgr.ProcessValidationResult(ctx, placed.ID, true))

	lineID := emitters.allocationReqs[0].Lines[0].ID
	require.NoError(t, mgr.BeerOrderAllocationPendingInventory(ctx, &domain.AllocateOrderResult{
		OrderID:          placed.ID,
		PendingInventory: true,
		Lines:            []domain.AllocatedLine{{LineID: lineID, QuantityAllocated: 1}},
	}))

	partial, err := repo.FindByID(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingInventory, partial.Status)
	assert.Equal(t, 1, partial.Lines[0].QuantityAllocated)

	require.NoError(t, mgr.CancelBeerOrder(ctx, placed.ID))
	assert.Equal(t, domain.StatusCancelled, currentStatus(t, repo, placed.ID))
	assert.Empty(t, emitters.deallocationReqs, "order never reached ALLOCATED, nothing to compensate")
}

func TestCancelFromAllocatedEmitsDeallocation(t *testing.T) {
	mgr, repo, emitters := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 1)
	require.NoError(t, mgr.ProcessValidationResult(ctx, placed.ID, true))
	lineID := emitters.allocationReqs[0].Lines[0].ID
	require.NoError(t, mgr.BeerOrderAllocationPassed(ctx, &domain.AllocateOrderResult{
		OrderID: placed.ID,
		Lines:   []domain.AllocatedLine{{LineID: lineID, QuantityAllocated: 1}},
	}))

	require.NoError(t, mgr.CancelBeerOrder(ctx, placed.ID))

	assert.Equal(t, domain.StatusCancelled, currentStatus(t, repo, placed.ID))
	require.Len(t, emitters.deallocationReqs, 1)
	assert.Equal(t, placed.ID, emitters.deallocationReqs[0].ID)
}

func TestCancelFromEarlyStatesEmitsNoDeallocation(t *testing.T) {
	mgr, repo, emitters := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 1)
	require.NoError(t, mgr.CancelBeerOrder(ctx, placed.ID))

	assert.Equal(t, domain.StatusCancelled, currentStatus(t, repo, placed.ID))
	assert.Empty(t, emitters.deallocationReqs)
}

func TestPickUpFromAllocated(t *testing.T) {
	mgr, repo, emitters := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 1)
	require.NoError(t, mgr.ProcessValidationResult(ctx, placed.ID, true))
	lineID := emitters.allocationReqs[0].Lines[0].ID
	require.NoError(t, mgr.BeerOrderAllocationPassed(ctx, &domain.AllocateOrderResult{
		OrderID: placed.ID,
		Lines:   []domain.AllocatedLine{{LineID: lineID, QuantityAllocated: 1}},
	}))

	require.NoError(t, mgr.PickUpBeerOrder(ctx, placed.ID))
	assert.Equal(t, domain.StatusPickedUp, currentStatus(t, repo, placed.ID))
}

func TestEventsRejectedFromTerminalStates(t *testing.T) {
	mgr, repo, _ := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 1)
	require.NoError(t, mgr.CancelBeerOrder(ctx, placed.ID))

	err := mgr.CancelBeerOrder(ctx, placed.ID)
	assert.ErrorIs(t, err, statemachine.ErrTransitionRejected, "cancelling a terminal order is not re-entrant")
	assert.Equal(t, domain.StatusCancelled, currentStatus(t, repo, placed.ID))

	err = mgr.PickUpBeerOrder(ctx, placed.ID)
	assert.ErrorIs(t, err, statemachine.ErrTransitionRejected)
}

func TestDuplicateAllocationReplyIsRejected(t *testing.T) {
	mgr, _, emitters := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 1)
	require.NoError(t, mgr.ProcessValidationResult(ctx, placed.ID, true))
	lineID := emitters.allocationReqs[0].Lines[0].ID
	result := &domain.AllocateOrderResult{
		OrderID: placed.ID,
		Lines:   []domain.AllocatedLine{{LineID: lineID, QuantityAllocated: 1}},
	}
	require.NoError(t, mgr.BeerOrderAllocationPassed(ctx, result))

	err := mgr.BeerOrderAllocationPassed(ctx, result)
	assert.ErrorIs(t, err, statemachine.ErrTransitionRejected)
}

func TestUnknownOrderReturnsNotFound(t *testing.T) {
	mgr, _, emitters := newTestManager(t)
	ctx := context.Background()

	err := mgr.ProcessValidationResult(ctx, uuid.New(), true)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, emitters.allocationReqs)

	err = mgr.CancelBeerOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestVersionIncrementsPerAcceptedTransition(t *testing.T) {
	mgr, repo, emitters := newTestManager(t)
	ctx := context.Background()

	placed := placeOrder(t, mgr, 1)
	afterCreate, err := repo.FindByID(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), afterCreate.Version, "insert at 0, one accepted transition")

	require.NoError(t, mgr.ProcessValidationResult(ctx, placed.ID, true))
	afterValidation, err := repo.FindByID(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), afterValidation.Version, "VALIDATION_PASSED and ALLOCATE_ORDER are two transitions")

	lineID := emitters.allocationReqs[0].Lines[0].ID
	require.NoError(t, mgr.BeerOrderAllocationPassed(ctx, &domain.AllocateOrderResult{
		OrderID: placed.ID,
		Lines:   []domain.AllocatedLine{{LineID: lineID, QuantityAllocated: 1}},
	}))
	final, err := repo.FindByID(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), final.Version, "ALLOCATION_SUCCESS transition plus the quantity merge write")
}

func TestStaleWriterGetsVersionConflict(t *testing.T) {
	_, repo, _ := newTestManager(t)
	ctx := context.Background()

	order, err := domain.NewBeerOrder("customer-a", []domain.BeerOrderLine{{UPC: "0631234200036", OrderQuantity: 1}})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, order))

	first, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, first))
	err = repo.Save(ctx, second)
	assert.ErrorIs(t, err, domain.ErrVersionConflict, "the race must surface as a conflict, not a lost update")
}
