// Package model はドメインモデルを定義する。
package model

// MaxItemQuantity はカート内の1商品あたりの数量上限。
// 異常入力による数量の暴走を防ぐ。
const MaxItemQuantity = 99

// Cart はコマースプロバイダー側のカートのスナップショットを表す。
// 成功した変更呼び出しごとに新しい値で丸ごと差し替えられ、
// 既存のスナップショットは変更されない。
type Cart struct {
	ID        string
	Items     []CartItem
	Subtotal  float64
	Currency  string
	AccountID string // 未連携の場合は空
}

// ItemCount はカート内商品の数量合計を返す。
func (c *Cart) ItemCount() int {
	if c == nil {
		return 0
	}
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// IsAssociated はカートがコマースアカウントに連携済みかを返す。
func (c *Cart) IsAssociated() bool {
	return c != nil && c.AccountID != ""
}

// IsEmpty はカートが空かを返す。nilカートは空として扱う。
func (c *Cart) IsEmpty() bool {
	return c.ItemCount() == 0
}

// FindItem はカート内の商品をIDで検索する。見つからない場合はnilを返す。
func (c *Cart) FindItem(itemID string) *CartItem {
	if c == nil {
		return nil
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return &c.Items[i]
		}
	}
	return nil
}

// CartItem はカート内の1商品を表す。
type CartItem struct {
	ID        string
	ProductID string
	VariantID string // バリアントなしの場合は空
	Quantity  int
	UnitPrice float64
	Options   map[string]string
}

// AccountProfile はコマースアカウント作成時のプロフィール項目。
// email_verified等のフロントエンドから設定できない項目は含めない。
type AccountProfile struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}
