// Package model はドメインモデルを定義する。
package model

import "time"

// Order はコマースアカウントの注文を表す。
type Order struct {
	ID         string
	Number     string
	Status     OrderStatus
	Items      []OrderItem
	Subtotal   float64
	GrandTotal float64
	Currency   string
	CreatedAt  time.Time
}

// OrderItem は注文内の1商品を表す。
type OrderItem struct {
	ID          string
	ProductID   string
	ProductName string
	VariantID   string
	Quantity    int
	UnitPrice   float64
}

// OrderStatus は注文のステータスを表す。
type OrderStatus string

const (
	// OrderStatusPending は処理待ちの注文。
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusDraft は下書き状態の注文。
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPaymentPending は支払い待ちの注文。
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	// OrderStatusDelivery は配送中の注文。
	OrderStatusDelivery OrderStatus = "delivery_pending"
	// OrderStatusComplete は完了した注文。
	OrderStatusComplete OrderStatus = "complete"
	// OrderStatusCanceled はキャンセルされた注文。
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderPage は注文一覧のページング情報を表す。
type OrderPage struct {
	Orders []Order
	Page   int
	Pages  int
	Count  int
}

// DeviceToken はモバイルシェルが登録するプッシュ通知用デバイストークンを表す。
// 識別はIDプロバイダーのUIDで行い、同一UID・同一プラットフォームの
// 再登録はトークンの上書きとして扱う。
type DeviceToken struct {
	ID           string
	IdentityUID  string
	Token        string
	Platform     string // "ios" / "android"
	RegisteredAt time.Time
	UpdatedAt    time.Time
}
