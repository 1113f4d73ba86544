package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/synoptic/shopcore/internal/cartview"
	"github.com/synoptic/shopcore/internal/commerce"
	"github.com/synoptic/shopcore/internal/middleware"
	"github.com/synoptic/shopcore/internal/model"
)

// CartHandler はカート操作のHTTPハンドラー。
type CartHandler struct {
	cores CoreProvider
}

// NewCartHandler はCartHandlerを生成する。
func NewCartHandler(cores CoreProvider) *CartHandler {
	return &CartHandler{cores: cores}
}

// addItemRequest はカート追加リクエストのボディ。
type addItemRequest struct {
	ProductID string            `json:"product_id"`
	VariantID string            `json:"variant_id"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"options"`
}

// updateItemRequest はカート項目の数量変更リクエストのボディ。
type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

// cartItemResponse はカート項目のAPIレスポンス。
type cartItemResponse struct {
	ID        string            `json:"id"`
	ProductID string            `json:"product_id"`
	VariantID string            `json:"variant_id,omitempty"`
	Quantity  int               `json:"quantity"`
	UnitPrice float64           `json:"unit_price"`
	Options   map[string]string `json:"options,omitempty"`
}

// cartResponse はカート情報のAPIレスポンス。
type cartResponse struct {
	ID        string             `json:"id"`
	Items     []cartItemResponse `json:"items"`
	ItemCount int                `json:"item_count"`
	Subtotal  float64            `json:"subtotal"`
	Currency  string             `json:"currency"`
	AccountID string             `json:"account_id,omitempty"`
}

// cartStateResponse はカートビューモデルの表示用状態のAPIレスポンス。
type cartStateResponse struct {
	ItemCount         int                           `json:"item_count"`
	Subtotal          float64                       `json:"subtotal"`
	FormattedSubtotal string                        `json:"formatted_subtotal"`
	IsLoading         bool                          `json:"is_loading"`
	IsAuthenticated   bool                          `json:"is_authenticated"`
	IsAssociated      bool                          `json:"is_associated"`
	ReconcileState    string                        `json:"reconcile_state"`
	ReconcileError    *middleware.ErrorResponseBody `json:"reconcile_error,omitempty"`
}

func toCartResponse(cart *model.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Options:   item.Options,
		})
	}
	return cartResponse{
		ID:        cart.ID,
		Items:     items,
		ItemCount: cart.ItemCount(),
		Subtotal:  cart.Subtotal,
		Currency:  cart.Currency,
		AccountID: cart.AccountID,
	}
}

func toCartStateResponse(state cartview.ViewState) cartStateResponse {
	resp := cartStateResponse{
		ItemCount:         state.ItemCount,
		Subtotal:          state.Subtotal,
		FormattedSubtotal: state.FormattedSubtotal,
		IsLoading:         state.IsLoading,
		IsAuthenticated:   state.IsAuthenticated,
		IsAssociated:      state.IsAssociated,
		ReconcileState:    state.ReconcileState.String(),
	}
	if state.ReconcileErr != nil {
		var apiErr *model.APIError
		if errors.As(state.ReconcileErr, &apiErr) {
			resp.ReconcileError = &middleware.ErrorResponseBody{
				Code:     apiErr.Code,
				Message:  apiErr.Message,
				Category: apiErr.Category,
				Action:   apiErr.Action,
			}
		}
	}
	return resp
}

func writeCart(w http.ResponseWriter, cart *model.Cart) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCartResponse(cart))
}

// GetCart はコマースAPIから最新のカートを取得して返す。
// GET /api/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	cart, err := core.View.Refresh(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeCart(w, cart)
}

// GetState はカートの表示用状態スナップショットを返す。
// コマースAPIへのアクセスは発生しない。
// GET /api/cart/state
func (h *CartHandler) GetState(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCartStateResponse(core.View.State()))
}

// AddItem はカートに商品を追加する。
// POST /api/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.ProductID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeValidationError,
			Message:  "商品IDが指定されていません。",
			Category: "validation",
			Action:   "product_idを指定してください。",
		})
		return
	}
	if req.Quantity < 1 {
		apiErr := model.NewInvalidQuantityError(req.Quantity)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	cart, err := core.View.AddItem(r.Context(), commerce.ItemInput{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
		Options:   req.Options,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeCart(w, cart)
}

// UpdateItem はカート項目の数量を変更する。
// PATCH /api/cart/items/:id
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	itemID := chi.URLParam(r, "id")
	cart, err := core.View.UpdateItemQuantity(r.Context(), itemID, req.Quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeCart(w, cart)
}

// RemoveItem はカートから項目を削除する。
// DELETE /api/cart/items/:id
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	itemID := chi.URLParam(r, "id")
	cart, err := core.View.RemoveItem(r.Context(), itemID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeCart(w, cart)
}

// Clear はカートの全項目を削除する。
// DELETE /api/cart/items
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	cart, err := core.View.Clear(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeCart(w, cart)
}

// Associate はカートのアカウント連携の再確認をリコンサイラーに要求する。
// 連携処理は非同期で進むため202を返す。結果はGET /api/cart/stateで確認する。
// POST /api/cart/associate
func (h *CartHandler) Associate(w http.ResponseWriter, r *http.Request) {
	core, apiErr := resolveCore(h.cores, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if err := core.View.ForceAssociation(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
