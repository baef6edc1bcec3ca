package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"taphouse/internal/service/order/domain"
)

const serviceName = "order-service"

// BeerOrderHandler 封装了订单服务的 HTTP 处理器
type BeerOrderHandler struct {
	manager OrderManager
}

// NewBeerOrderHandler 创建一个新的 HTTP 处理器实例
func NewBeerOrderHandler(manager OrderManager) *BeerOrderHandler {
	return &BeerOrderHandler{manager: manager}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *BeerOrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/v1/orders", h.createOrder)
	mux.HandleFunc("GET /api/v1/orders/{orderId}", h.getOrder)
	mux.HandleFunc("PUT /api/v1/orders/{orderId}/pickup", h.pickUpOrder)
	mux.HandleFunc("PUT /api/v1/orders/{orderId}/cancel", h.cancelOrder)
}

type createOrderLineDto struct {
	UPC           string `json:"upc"`
	OrderQuantity int    `json:"orderQuantity"`
}

type createOrderRequest struct {
	CustomerRef string               `json:"customerRef"`
	Lines       []createOrderLineDto `json:"lines"`
}

func (h *BeerOrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.CreateBeerOrder")
	defer span.End()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	lines := make([]domain.BeerOrderLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, domain.BeerOrderLine{UPC: l.UPC, OrderQuantity: l.OrderQuantity})
	}

	order, err := domain.NewBeerOrder(req.CustomerRef, lines)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	span.SetAttributes(
		attribute.String("order.customer_ref", req.CustomerRef),
		attribute.Int("order.line_count", len(lines)),
	)

	created, err := h.manager.NewBeerOrder(ctx, order)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, domain.SnapshotOf(created))
}

func (h *BeerOrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span, orderID, ok := h.startOrderSpan(w, r, "api.GetBeerOrder")
	if !ok {
		return
	}
	defer span.End()

	order, err := h.manager.GetBeerOrder(ctx, orderID)
	if err != nil {
		writeManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.SnapshotOf(order))
}

func (h *BeerOrderHandler) pickUpOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span, orderID, ok := h.startOrderSpan(w, r, "api.PickUpBeerOrder")
	if !ok {
		return
	}
	defer span.End()

	if err := h.manager.PickUpBeerOrder(ctx, orderID); err != nil {
		writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BeerOrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span, orderID, ok := h.startOrderSpan(w, r, "api.CancelBeerOrder")
	if !ok {
		return
	}
	defer span.End()

	if err := h.manager.CancelBeerOrder(ctx, orderID); err != nil {
		writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// startOrderSpan 提取上游 trace 上下文、解析路径里的订单 ID 并开启 span。
// ID 非法时直接写 400 并返回 ok=false，此时无需 span.End。
func (h *BeerOrderHandler) startOrderSpan(w http.ResponseWriter, r *http.Request, spanName string) (ctx context.Context, span trace.Span, orderID uuid.UUID, ok bool) {
	propagator := otel.GetTextMapPropagator()
	ctx = propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	orderID, err := uuid.Parse(r.PathValue("orderId"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return ctx, nil, uuid.Nil, false
	}

	tracer := otel.Tracer(serviceName)
	ctx, span = tracer.Start(ctx, spanName)
	span.SetAttributes(attribute.String("order.id", orderID.String()))
	return ctx, span, orderID, true
}

func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrVersionConflict):
		http.Error(w, "order modified concurrently, retry", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
