package news

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/synoptic/shopcore/internal/model"
)

// maxItems は一度に公開するニュース記事の最大件数。
const maxItems = 20

// Item はサニタイズ済みのニュース記事を表す。
type Item struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// SSRFValidator はSSRF検証のインターフェース。
// securityパッケージのSSRFガードを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Sanitizer は記事HTMLのサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// Service はショップブログのフィードを取得し、記事一覧を提供する。
// 取得結果はTTL付きでメモリにキャッシュされ、設定URLがHTMLページの
// 場合は一度だけフィードURLの自動検出を行い、以後は解決済みURLを使う。
type Service struct {
	feedURL     string
	ssrfGuard   SSRFValidator
	sanitizer   Sanitizer
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	cacheTTL    time.Duration

	mu          sync.Mutex
	cached      []Item
	cachedAt    time.Time
	resolvedURL string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	feedURL string,
	ssrfGuard SSRFValidator,
	sanitizer Sanitizer,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
	cacheTTL time.Duration,
) *Service {
	return &Service{
		feedURL:     feedURL,
		ssrfGuard:   ssrfGuard,
		sanitizer:   sanitizer,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		cacheTTL:    cacheTTL,
	}
}

// Latest は最新のニュース記事一覧を返す。
// キャッシュが有効な間は取得を行わない。取得に失敗した場合、
// 期限切れのキャッシュが残っていればそれを返す。
func (s *Service) Latest(ctx context.Context) ([]Item, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < s.cacheTTL {
		items := s.cached
		s.mu.Unlock()
		return items, nil
	}
	stale := s.cached
	s.mu.Unlock()

	items, err := s.fetch(ctx)
	if err != nil {
		if stale != nil {
			s.logger.Warn("ニュース取得に失敗したため期限切れキャッシュを返します",
				slog.String("feed_url", s.feedURL),
				slog.String("error", err.Error()),
			)
			return stale, nil
		}
		s.logger.Error("ニュース取得に失敗しました",
			slog.String("feed_url", s.feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewNewsUnavailableError()
	}

	s.mu.Lock()
	s.cached = items
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return items, nil
}

// fetch はフィードを取得してパースし、記事一覧に変換する。
func (s *Service) fetch(ctx context.Context) ([]Item, error) {
	if s.feedURL == "" {
		return nil, fmt.Errorf("ニュースフィードURLが設定されていません")
	}

	s.mu.Lock()
	target := s.resolvedURL
	s.mu.Unlock()
	if target == "" {
		target = s.feedURL
	}

	contentType, body, err := s.get(ctx, target)
	if err != nil {
		return nil, err
	}

	// HTMLページが返った場合はフィードURLの自動検出を行う
	if !isDirectFeed(contentType, body) {
		candidate, err := s.discover(ctx, body, target)
		if err != nil {
			return nil, err
		}
		contentType, body, err = s.get(ctx, candidate.URL)
		if err != nil {
			return nil, err
		}
		if !isDirectFeed(contentType, body) {
			return nil, fmt.Errorf("検出したURLがフィードではありません: %s", candidate.URL)
		}

		s.mu.Lock()
		s.resolvedURL = candidate.URL
		s.mu.Unlock()
		s.logger.Info("ニュースフィードURLを自動検出しました",
			slog.String("page_url", target),
			slog.String("feed_url", candidate.URL),
			slog.String("feed_kind", string(candidate.Kind)),
		)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	return s.convert(parsed), nil
}

// get はSSRF検証付きでURLを取得し、Content-Typeとボディを返す。
func (s *Service) get(ctx context.Context, rawURL string) (string, []byte, error) {
	if err := s.ssrfGuard.ValidateURL(rawURL); err != nil {
		return "", nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := s.ssrfGuard.NewSafeClient(s.timeout, s.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Shopcore/1.0 News Fetcher")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("予期しないHTTPステータス: %d", resp.StatusCode)
	}

	// レスポンスボディを読み込み（最大サイズ制限付き）
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return "", nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	return resp.Header.Get("Content-Type"), body, nil
}

// discover はHTMLページのボディからフィード候補を検出し、最適な候補を返す。
func (s *Service) discover(ctx context.Context, htmlBody []byte, pageURL string) (*feedCandidate, error) {
	candidates := discoverFeedLinks(htmlBody, pageURL)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("フィードリンクが見つかりません: %s", pageURL)
	}

	best := selectBestCandidate(candidates, pageURL)
	if err := s.ssrfGuard.ValidateURL(best.URL); err != nil {
		return nil, fmt.Errorf("検出したフィードURLのSSRF検証に失敗: %w", err)
	}
	return best, nil
}

// convert はgofeedのパース結果をサニタイズ済み記事一覧に変換する。
func (s *Service) convert(parsed *gofeed.Feed) []Item {
	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if len(items) >= maxItems {
			break
		}

		summary := entry.Description
		if summary == "" {
			summary = entry.Content
		}

		id := entry.GUID
		if id == "" {
			id = entry.Link
		}

		items = append(items, Item{
			ID:          id,
			Title:       s.sanitizer.Sanitize(entry.Title),
			Link:        entry.Link,
			Summary:     s.sanitizer.Sanitize(summary),
			PublishedAt: entry.PublishedParsed,
		})
	}
	return items
}
