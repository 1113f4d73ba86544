// Package reconcile はIDセッションとコマースセッションの整合を保つ
// リコンサイラーを提供する。サインイン・サインアウト・ユーザー切り替えの
// 遷移を順序通りに処理し、カートのアカウント連携を維持する。
package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// DeriveCredential はIDプロバイダーのUIDからコマースアカウント用の
// 決定的なパスワードを導出する。同じUIDと秘密鍵からは常に同じ値が得られ、
// 再ログイン時に同一アカウントへ到達できる。
func DeriveCredential(secret, uid string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(uid))
	return hex.EncodeToString(mac.Sum(nil))
}
