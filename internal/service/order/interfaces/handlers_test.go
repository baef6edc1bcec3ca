package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/domain"
)

// recordingManager 记录接口层对协调者的调用，按方法名计数。
type recordingManager struct {
	calls []string
	err   error
	order *domain.BeerOrder
}

func (m *recordingManager) NewBeerOrder(_ context.Context, order *domain.BeerOrder) (*domain.BeerOrder, error) {
	m.calls = append(m.calls, "new")
	if m.err != nil {
		return nil, m.err
	}
	order.ID = uuid.New()
	return order, nil
}

func (m *recordingManager) ProcessValidationResult(context.Context, uuid.UUID, bool) error {
	m.calls = append(m.calls, "validation")
	return m.err
}

func (m *recordingManager) BeerOrderAllocationPassed(context.Context, *domain.AllocateOrderResult) error {
	m.calls = append(m.calls, "allocation-passed")
	return m.err
}

func (m *recordingManager) BeerOrderAllocationPendingInventory(context.Context, *domain.AllocateOrderResult) error {
	m.calls = append(m.calls, "allocation-pending")
	return m.err
}

func (m *recordingManager) BeerOrderAllocationFailed(context.Context, *domain.AllocateOrderResult) error {
	m.calls = append(m.calls, "allocation-failed")
	return m.err
}

func (m *recordingManager) PickUpBeerOrder(context.Context, uuid.UUID) error {
	m.calls = append(m.calls, "pickup")
	return m.err
}

func (m *recordingManager) CancelBeerOrder(context.Context, uuid.UUID) error {
	m.calls = append(m.calls, "cancel")
	return m.err
}

func (m *recordingManager) GetBeerOrder(context.Context, uuid.UUID) (*domain.BeerOrder, error) {
	m.calls = append(m.calls, "get")
	if m.err != nil {
		return nil, m.err
	}
	return m.order, nil
}

func TestDispatchAllocationResult(t *testing.T) {
	cases := []struct {
		name    string
		result  domain.AllocateOrderResult
		want    string
	}{
		{"success", domain.AllocateOrderResult{}, "allocation-passed"},
		{"pending inventory", domain.AllocateOrderResult{PendingInventory: true}, "allocation-pending"},
		{"error", domain.AllocateOrderResult{AllocationError: true}, "allocation-failed"},
		{"error wins over pending", domain.AllocateOrderResult{AllocationError: true, PendingInventory: true}, "allocation-failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			manager := &recordingManager{}
			err := dispatchAllocationResult(context.Background(), manager, &tc.result)
			require.NoError(t, err)
			require.Equal(t, []string{tc.want}, manager.calls)
		})
	}
}

func TestWithNotFoundRetry_SucceedsAfterTransientNotFound(t *testing.T) {
	var attempts int
	err := withNotFoundRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.ErrOrderNotFound
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithNotFoundRetry_OtherErrorsReturnImmediately(t *testing.T) {
	boom := errors.New("boom")
	var attempts int
	err := withNotFoundRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestWithNotFoundRetry_HonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := withNotFoundRetry(ctx, func(ctx context.Context) error {
		return domain.ErrOrderNotFound
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateOrderEndpoint(t *testing.T) {
	manager := &recordingManager{}
	mux := http.NewServeMux()
	NewBeerOrderHandler(manager).RegisterRoutes(mux)

	body, _ := json.Marshal(createOrderRequest{
		CustomerRef: "walk-in",
		Lines:       []createOrderLineDto{{UPC: "0631234200036", OrderQuantity: 6}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, []string{"new"}, manager.calls)

	var snapshot domain.BeerOrderSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.NotEqual(t, uuid.Nil, snapshot.ID)
	assert.Equal(t, "walk-in", snapshot.CustomerRef)
}

func TestCreateOrderEndpoint_RejectsEmptyLines(t *testing.T) {
	manager := &recordingManager{}
	mux := http.NewServeMux()
	NewBeerOrderHandler(manager).RegisterRoutes(mux)

	body, _ := json.Marshal(createOrderRequest{CustomerRef: "walk-in"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, manager.calls)
}

func TestGetOrderEndpoint_NotFoundMapsTo404(t *testing.T) {
	manager := &recordingManager{err: domain.ErrOrderNotFound}
	mux := http.NewServeMux()
	NewBeerOrderHandler(manager).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrderEndpoint_InvalidIDMapsTo400(t *testing.T) {
	manager := &recordingManager{}
	mux := http.NewServeMux()
	NewBeerOrderHandler(manager).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/not-a-uuid/cancel", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, manager.calls)
}

// memDeduper 是 ReplyDeduplicator 的内存实现，语义与 Redis SETNX/DEL 对齐。
type memDeduper struct {
	claimed map[string]bool
}

func newMemDeduper() *memDeduper {
	return &memDeduper{claimed: make(map[string]bool)}
}

func (d *memDeduper) FirstDelivery(_ context.Context, key string) (bool, error) {
	if d.claimed[key] {
		return false, nil
	}
	d.claimed[key] = true
	return true, nil
}

func (d *memDeduper) Release(_ context.Context, key string) error {
	delete(d.claimed, key)
	return nil
}

// flakyManager 让前 failuresLeft 次协调者调用返回 failErr，之后成功。
type flakyManager struct {
	recordingManager
	failuresLeft int
	failErr      error
}

func (m *flakyManager) fail() error {
	if m.failuresLeft > 0 {
		m.failuresLeft--
		return m.failErr
	}
	return nil
}

func (m *flakyManager) ProcessValidationResult(context.Context, uuid.UUID, bool) error {
	m.calls = append(m.calls, "validation")
	return m.fail()
}

func (m *flakyManager) BeerOrderAllocationPassed(context.Context, *domain.AllocateOrderResult) error {
	m.calls = append(m.calls, "allocation-passed")
	return m.fail()
}

func validationReply(t *testing.T) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(domain.ValidateOrderResult{OrderID: uuid.New(), Valid: true})
	require.NoError(t, err)
	return kafka.Message{Value: payload}
}

func TestFailedValidationReplyCanBeReplayed(t *testing.T) {
	manager := &flakyManager{failuresLeft: 1, failErr: domain.ErrVersionConflict}
	deduper := newMemDeduper()
	consumer := NewValidationResultConsumer(nil, manager, deduper, nil, time.Second)
	msg := validationReply(t)

	// 第一次处理因版本冲突失败，这条消息会走向死信
	err := consumer.processMessage(context.Background(), msg)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Empty(t, deduper.claimed, "failed processing must return the dedup claim")

	// 重投同一条回复必须再次到达协调者，而不是被当作重复跳过
	require.NoError(t, consumer.processMessage(context.Background(), msg))
	assert.Equal(t, []string{"validation", "validation"}, manager.calls)
}

func TestFailedAllocationReplyCanBeReplayed(t *testing.T) {
	manager := &flakyManager{failuresLeft: 1, failErr: domain.ErrVersionConflict}
	deduper := newMemDeduper()
	consumer := NewAllocationResultConsumer(nil, manager, deduper, nil, time.Second)

	payload, err := json.Marshal(domain.AllocateOrderResult{OrderID: uuid.New()})
	require.NoError(t, err)
	msg := kafka.Message{Value: payload}

	err = consumer.processMessage(context.Background(), msg)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Empty(t, deduper.claimed)

	require.NoError(t, consumer.processMessage(context.Background(), msg))
	assert.Equal(t, []string{"allocation-passed", "allocation-passed"}, manager.calls)
}

func TestDuplicateReplySkippedAfterSuccess(t *testing.T) {
	manager := &flakyManager{}
	deduper := newMemDeduper()
	consumer := NewValidationResultConsumer(nil, manager, deduper, nil, time.Second)
	msg := validationReply(t)

	require.NoError(t, consumer.processMessage(context.Background(), msg))
	require.NoError(t, consumer.processMessage(context.Background(), msg))

	assert.Equal(t, []string{"validation"}, manager.calls, "a successfully processed reply stays claimed")
}

// stalledManager 模拟协调者卡住（比如对账轮询迟迟不结束），只能靠超时解围。
type stalledManager struct {
	recordingManager
}

func (m *stalledManager) ProcessValidationResult(ctx context.Context, _ uuid.UUID, _ bool) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestProcessingTimeoutBoundsCoordinatorCall(t *testing.T) {
	manager := &stalledManager{}
	deduper := newMemDeduper()
	consumer := NewValidationResultConsumer(nil, manager, deduper, nil, 5*time.Millisecond)

	err := consumer.processMessage(context.Background(), validationReply(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, deduper.claimed, "a timed-out reply must stay replayable")
}

func TestStopTerminatesConsumerLoop(t *testing.T) {
	reader := mq.NewKafkaReader([]string{"localhost:1"}, ValidateOrderResultTopic, "stop-test-group")
	consumer := NewValidationResultConsumer(reader, &recordingManager{}, newMemDeduper(), nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	consumer.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		consumer.Stop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}

func TestPickUpOrderEndpoint(t *testing.T) {
	manager := &recordingManager{}
	mux := http.NewServeMux()
	NewBeerOrderHandler(manager).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/"+uuid.NewString()+"/pickup", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"pickup"}, manager.calls)
}
