// Package commerce はコマースプロバイダー連携機能を提供する。
// ストアフロントAPIのクライアントとカートセッションの状態管理を含む。
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/synoptic/shopcore/internal/metrics"
	"github.com/synoptic/shopcore/internal/model"
)

// sessionHeader はカートセッショントークンを運ぶHTTPヘッダー。
// プロバイダーはレスポンスで新しいトークンを返すことがある。
const sessionHeader = "X-Session"

// ClientConfig はコマースプロバイダーAPIの接続設定。
type ClientConfig struct {
	APIURL    string // 例: https://store.example.swell.store
	StoreID   string
	PublicKey string

	// テスト用に差し替え可能なHTTPクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// Client はコマースプロバイダーのストアフロントAPIクライアント。
// ブラウザセッション単位に1つ生成され、カートセッショントークンを保持する。
type Client struct {
	config    ClientConfig
	collector metrics.MetricsCollector
	logger    *slog.Logger

	mu           sync.Mutex
	sessionToken string
}

// NewClient はClient の新しいインスタンスを生成する。
// プロバイダー呼び出しごとのHTTPステータスとレイテンシーをcollectorに記録する。
func NewClient(config ClientConfig, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &Client{
		config:    config,
		collector: collector,
		logger:    logger,
	}
}

// SessionToken は現在のカートセッショントークンを返す。
// セッションレジストリがコアの保存・復元に使用する。
func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

// SetSessionToken はカートセッショントークンを復元する。
func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionToken = token
}

// failureKindForStatus はHTTPステータスを失敗分類にマップする。
func failureKindForStatus(status int) model.FailureKind {
	switch status {
	case http.StatusNotFound:
		return model.FailureNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return model.FailureValidation
	case http.StatusUnauthorized, http.StatusConflict:
		return model.FailureAuthConflict
	default:
		return model.FailureNetwork
	}
}

// do はAPIを呼び出し、レスポンスボディを返す。
// 通信エラーとエラーステータスはCommerceErrorに変換する。
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.APIURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.config.PublicKey)
	req.Header.Set("X-Store-Id", c.config.StoreID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	if c.sessionToken != "" {
		req.Header.Set(sessionHeader, c.sessionToken)
	}
	c.mu.Unlock()

	start := time.Now()
	resp, err := c.config.HTTPClient.Do(req)
	c.collector.RecordCommerceLatency(time.Since(start))
	if err != nil {
		c.collector.RecordCommerceStatus(0)
		c.logger.Error("コマースAPIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewCommerceError(model.FailureNetwork, 0, err)
	}
	defer resp.Body.Close()

	c.collector.RecordCommerceStatus(resp.StatusCode)

	// プロバイダーが新しいセッショントークンを返した場合は差し替える
	if token := resp.Header.Get(sessionHeader); token != "" {
		c.mu.Lock()
		c.sessionToken = token
		c.mu.Unlock()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewCommerceError(model.FailureNetwork, resp.StatusCode,
			fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := failureKindForStatus(resp.StatusCode)
		c.logger.Warn("コマースAPIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("failure_kind", kind.String()),
		)
		return nil, model.NewCommerceError(kind, resp.StatusCode,
			fmt.Errorf("commerce API returned status %d: %s", resp.StatusCode, string(body)))
	}

	return body, nil
}

// cartPayload はカートAPIのレスポンスボディ。
type cartPayload struct {
	ID       string        `json:"id"`
	Items    []itemPayload `json:"items"`
	SubTotal float64       `json:"sub_total"`
	Currency string        `json:"currency"`
	Account  *struct {
		ID string `json:"id"`
	} `json:"account"`
	AccountID string `json:"account_id"`
}

// itemPayload はカート項目のレスポンスボディ。
type itemPayload struct {
	ID        string            `json:"id"`
	ProductID string            `json:"product_id"`
	VariantID string            `json:"variant_id"`
	Quantity  int               `json:"quantity"`
	Price     float64           `json:"price"`
	Options   map[string]string `json:"options"`
}

func (p *cartPayload) toModel() *model.Cart {
	cart := &model.Cart{
		ID:        p.ID,
		Subtotal:  p.SubTotal,
		Currency:  p.Currency,
		AccountID: p.AccountID,
	}
	if cart.AccountID == "" && p.Account != nil {
		cart.AccountID = p.Account.ID
	}
	for _, item := range p.Items {
		cart.Items = append(cart.Items, model.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
			Options:   item.Options,
		})
	}
	return cart
}

// decodeCart はカートレスポンスをパースする。
// プロバイダーはカート未作成時に null を返すため、その場合はnilカートを返す。
func decodeCart(body []byte) (*model.Cart, error) {
	var payload *cartPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse cart response: %w", err)
	}
	if payload == nil {
		return nil, nil
	}
	return payload.toModel(), nil
}

// GetCart は現在のカートを取得する。
// カートが未作成の場合は(nil, nil)を返す。
func (c *Client) GetCart(ctx context.Context) (*model.Cart, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/cart", nil)
	if err != nil {
		var ce *model.CommerceError
		if errors.As(err, &ce) && ce.Kind == model.FailureNotFound {
			return nil, nil
		}
		return nil, err
	}
	return decodeCart(body)
}

// ItemInput はカートへ追加する商品の指定。
type ItemInput struct {
	ProductID string            `json:"product_id"`
	VariantID string            `json:"variant_id,omitempty"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"options,omitempty"`
}

// AddItem はカートに商品を追加し、更新後のカートを返す。
func (c *Client) AddItem(ctx context.Context, input ItemInput) (*model.Cart, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/cart/items", input)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// UpdateItem はカート項目の数量を変更し、更新後のカートを返す。
func (c *Client) UpdateItem(ctx context.Context, itemID string, quantity int) (*model.Cart, error) {
	payload := struct {
		Quantity int `json:"quantity"`
	}{Quantity: quantity}

	body, err := c.do(ctx, http.MethodPut, "/api/cart/items/"+itemID, payload)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// RemoveItem はカートから商品を削除し、更新後のカートを返す。
func (c *Client) RemoveItem(ctx context.Context, itemID string) (*model.Cart, error) {
	body, err := c.do(ctx, http.MethodDelete, "/api/cart/items/"+itemID, nil)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// SetCartAccount はカートをメールアドレスでゲストアカウントに紐付け、
// 更新後のカートを返す。カートが未作成の場合は(nil, nil)を返す。
func (c *Client) SetCartAccount(ctx context.Context, email string) (*model.Cart, error) {
	payload := struct {
		Account struct {
			Email string `json:"email"`
		} `json:"account"`
	}{}
	payload.Account.Email = email

	body, err := c.do(ctx, http.MethodPut, "/api/cart", payload)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// ClearItems はカートの全商品を削除し、更新後のカートを返す。
func (c *Client) ClearItems(ctx context.Context) (*model.Cart, error) {
	payload := struct {
		Items []ItemInput `json:"items"`
	}{Items: []ItemInput{}}

	body, err := c.do(ctx, http.MethodPut, "/api/cart", payload)
	if err != nil {
		return nil, err
	}
	return decodeCart(body)
}

// accountPayload はアカウントAPIのレスポンスボディ。
type accountPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Guest bool   `json:"guest"`
}

func (p *accountPayload) toModel() *model.CommerceAccount {
	return &model.CommerceAccount{
		ID:      p.ID,
		Email:   p.Email,
		IsGuest: p.Guest,
	}
}

// Login はメールアドレスとパスワードでコマースアカウントにログインする。
// プロバイダーは認証情報不一致時にnullボディを返すため、
// その場合はFailureAuthConflictとして扱う。
func (c *Client) Login(ctx context.Context, email, password string) (*model.CommerceAccount, error) {
	payload := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	body, err := c.do(ctx, http.MethodPost, "/api/account/login", payload)
	if err != nil {
		return nil, err
	}

	var account *accountPayload
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("failed to parse login response: %w", err)
	}
	if account == nil {
		return nil, model.NewCommerceError(model.FailureAuthConflict, http.StatusOK,
			fmt.Errorf("login rejected for %s", email))
	}
	return account.toModel(), nil
}

// CreateAccount はコマースアカウントを作成する。
// 同一メールアドレスのアカウントが既に存在する場合はFailureAuthConflictを返す。
func (c *Client) CreateAccount(ctx context.Context, profile model.AccountProfile) (*model.CommerceAccount, error) {
	payload := struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name,omitempty"`
		LastName  string `json:"last_name,omitempty"`
	}{
		Email:     profile.Email,
		Password:  profile.Password,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
	}

	body, err := c.do(ctx, http.MethodPost, "/api/account", payload)
	if err != nil {
		return nil, err
	}

	var account *accountPayload
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("failed to parse account response: %w", err)
	}
	if account == nil {
		return nil, model.NewCommerceError(model.FailureValidation, http.StatusOK,
			fmt.Errorf("account creation rejected for %s", profile.Email))
	}
	return account.toModel(), nil
}

// Logout はコマースアカウントからログアウトする。
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/account/logout", nil)
	return err
}

// CurrentAccount は現在のコマースアカウントを返す。
// 未ログインの場合は(nil, nil)を返す。
func (c *Client) CurrentAccount(ctx context.Context) (*model.CommerceAccount, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/account", nil)
	if err != nil {
		var ce *model.CommerceError
		if errors.As(err, &ce) && ce.Kind == model.FailureNotFound {
			return nil, nil
		}
		return nil, err
	}

	var account *accountPayload
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("failed to parse account response: %w", err)
	}
	if account == nil {
		return nil, nil
	}
	return account.toModel(), nil
}

// orderPayload は注文APIのレスポンスボディ。
type orderPayload struct {
	ID          string  `json:"id"`
	Number      string  `json:"number"`
	Status      string  `json:"status"`
	SubTotal    float64 `json:"sub_total"`
	GrandTotal  float64 `json:"grand_total"`
	Currency    string  `json:"currency"`
	DateCreated string  `json:"date_created"`
	Items       []struct {
		ID        string  `json:"id"`
		ProductID string  `json:"product_id"`
		VariantID string  `json:"variant_id"`
		Quantity  int     `json:"quantity"`
		Price     float64 `json:"price"`
		Product   *struct {
			Name string `json:"name"`
		} `json:"product"`
	} `json:"items"`
}

func (p *orderPayload) toModel() model.Order {
	order := model.Order{
		ID:         p.ID,
		Number:     p.Number,
		Status:     model.OrderStatus(p.Status),
		Subtotal:   p.SubTotal,
		GrandTotal: p.GrandTotal,
		Currency:   p.Currency,
	}
	if t, err := time.Parse(time.RFC3339, p.DateCreated); err == nil {
		order.CreatedAt = t
	}
	for _, item := range p.Items {
		oi := model.OrderItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		}
		if item.Product != nil {
			oi.ProductName = item.Product.Name
		}
		order.Items = append(order.Items, oi)
	}
	return order
}

// OrderQuery は注文一覧取得の絞り込み条件。
type OrderQuery struct {
	Page   int
	Limit  int
	Status model.OrderStatus // 空の場合は全ステータス
}

// ListOrders はログイン中アカウントの注文一覧を取得する。
func (c *Client) ListOrders(ctx context.Context, query OrderQuery) (*model.OrderPage, error) {
	path := "/api/account/orders?page=" + strconv.Itoa(query.Page) + "&limit=" + strconv.Itoa(query.Limit)
	if query.Status != "" {
		path += "&status=" + string(query.Status)
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []orderPayload `json:"results"`
		Page    int            `json:"page"`
		Pages   int            `json:"pages"`
		Count   int            `json:"count"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse orders response: %w", err)
	}

	page := &model.OrderPage{
		Page:  payload.Page,
		Pages: payload.Pages,
		Count: payload.Count,
	}
	for i := range payload.Results {
		page.Orders = append(page.Orders, payload.Results[i].toModel())
	}
	return page, nil
}

// GetOrder は注文を1件取得する。
func (c *Client) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/account/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}

	var payload *orderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	if payload == nil {
		return nil, model.NewCommerceError(model.FailureNotFound, http.StatusOK,
			fmt.Errorf("order %s not found", orderID))
	}
	order := payload.toModel()
	return &order, nil
}
