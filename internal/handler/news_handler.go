package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/synoptic/shopcore/internal/news"
)

// NewsServiceInterface はニュースハンドラーが必要とするサービスインターフェース。
type NewsServiceInterface interface {
	// Latest はショップニュースの最新記事一覧を返す。
	Latest(ctx context.Context) ([]news.Item, error)
}

// NewsHandler はショップニュース配信のHTTPハンドラー。
// ニュースはセッションに依存しないため、コアの解決は行わない。
type NewsHandler struct {
	service NewsServiceInterface
}

// NewNewsHandler はNewsHandlerを生成する。
func NewNewsHandler(service NewsServiceInterface) *NewsHandler {
	return &NewsHandler{service: service}
}

// newsListResponse はニュース記事一覧のAPIレスポンス。
type newsListResponse struct {
	Items []news.Item `json:"items"`
}

// ListNews はショップニュースの最新記事一覧を返す。
// GET /api/news
func (h *NewsHandler) ListNews(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Latest(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(newsListResponse{Items: items})
}
