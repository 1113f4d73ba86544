package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/synoptic/shopcore/internal/commerce"
	"github.com/synoptic/shopcore/internal/middleware"
	"github.com/synoptic/shopcore/internal/model"
)

// OrderHandler は注文参照のHTTPハンドラー。
type OrderHandler struct {
	cores CoreProvider
}

// NewOrderHandler はOrderHandlerを生成する。
func NewOrderHandler(cores CoreProvider) *OrderHandler {
	return &OrderHandler{cores: cores}
}

// orderItemResponse は注文内の1商品のAPIレスポンス。
type orderItemResponse struct {
	ID          string  `json:"id"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	VariantID   string  `json:"variant_id,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// orderResponse は注文情報のAPIレスポンス。
type orderResponse struct {
	ID         string              `json:"id"`
	Number     string              `json:"number"`
	Status     string              `json:"status"`
	Items      []orderItemResponse `json:"items"`
	Subtotal   float64             `json:"subtotal"`
	GrandTotal float64             `json:"grand_total"`
	Currency   string              `json:"currency"`
	CreatedAt  time.Time           `json:"created_at"`
}

// orderPageResponse は注文一覧のAPIレスポンス。
type orderPageResponse struct {
	Orders []orderResponse `json:"orders"`
	Page   int             `json:"page"`
	Pages  int             `json:"pages"`
	Count  int             `json:"count"`
}

func toOrderResponse(order *model.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return orderResponse{
		ID:         order.ID,
		Number:     order.Number,
		Status:     string(order.Status),
		Items:      items,
		Subtotal:   order.Subtotal,
		GrandTotal: order.GrandTotal,
		Currency:   order.Currency,
		CreatedAt:  order.CreatedAt,
	}
}

// ListOrders はログイン中アカウントの注文一覧を返す。
// クエリパラメータ: page, limit, status
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	query := commerce.OrderQuery{
		Status: model.OrderStatus(r.URL.Query().Get("status")),
	}
	var parseErr *model.APIError
	if query.Page, parseErr = parsePositiveInt(r, "page"); parseErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, parseErr)
		return
	}
	if query.Limit, parseErr = parsePositiveInt(r, "limit"); parseErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, parseErr)
		return
	}

	page, err := core.Orders.List(r.Context(), query)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := orderPageResponse{
		Orders: make([]orderResponse, 0, len(page.Orders)),
		Page:   page.Page,
		Pages:  page.Pages,
		Count:  page.Count,
	}
	for i := range page.Orders {
		resp.Orders = append(resp.Orders, toOrderResponse(&page.Orders[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetOrder は注文を1件取得して返す。
// GET /api/orders/:id
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	order, err := core.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toOrderResponse(order))
}

// parsePositiveInt はクエリパラメータを正の整数として解析する。
// パラメータが未指定の場合は0を返し、サービス層のデフォルト値に委ねる。
func parsePositiveInt(r *http.Request, name string) (int, *model.APIError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, &model.APIError{
			Code:     model.ErrCodeValidationError,
			Message:  name + " は正の整数で指定してください。",
			Category: "validation",
			Action:   "クエリパラメータを確認してください。",
		}
	}
	return value, nil
}
