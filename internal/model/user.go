// Package model はドメインモデルを定義する。
package model

import "strings"

// IdentityUser はIDプロバイダーの認証済みユーザーのスナップショットを表す。
// 認証状態の遷移ごとに新しい値が生成され、既存の値は変更されない。
type IdentityUser struct {
	ID            string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// FirstName は表示名の先頭の語を返す。
// コマースアカウント作成時のプロフィール項目として使用する。
func (u *IdentityUser) FirstName() string {
	parts := strings.Fields(u.DisplayName)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// LastName は表示名の2語目以降を返す。
func (u *IdentityUser) LastName() string {
	parts := strings.Fields(u.DisplayName)
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[1:], " ")
}

// AuthState は認証状態の確定結果を表す。
// 初回確定後のWaitForReadyの戻り値として使用する。
type AuthState struct {
	User            *IdentityUser // 未認証の場合はnil
	IsAuthenticated bool
}

// CommerceAccount はコマースプロバイダー側のアカウントを表す。
// ゲスト連携の場合はIsGuestがtrueになり、IDは合成値となる。
type CommerceAccount struct {
	ID      string
	Email   string
	IsGuest bool
}
