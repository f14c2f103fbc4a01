// Package tiktok implements the upstream content-source client. A
// Session wraps the long-lived authenticated state (cookie jar plus the
// ms_token credential) required for item-detail queries and media
// downloads; construction performs a handshake against the upstream web
// frontend and may take tens of seconds.
package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hbomb79/Vidra/pkg/logger"
	"github.com/mitchellh/mapstructure"
)

var log = logger.Get("TikTok")

const (
	webBaseURL         = "https://www.tiktok.com"
	itemDetailTemplate = "%s/api/item/detail/?itemId=%s&msToken=%s"

	userAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	refererValue = "https://www.tiktok.com/"

	handshakeTimeout = time.Second * 45
	requestTimeout   = time.Second * 60
	resolveTimeout   = time.Second * 10
)

type (
	Config struct {
		MsToken string
	}

	// Session is an opaque handle to the authenticated upstream client.
	// It is created once at process start by the session manager and
	// replaced wholesale (never mutated) when a fatal failure occurs.
	Session struct {
		msToken   string
		client    *http.Client
		createdAt time.Time
	}

	// ItemDetail is the typed projection of the upstream item document.
	ItemDetail struct {
		ID              string         `mapstructure:"id"`
		Description     string         `mapstructure:"desc"`
		CreateTime      int64          `mapstructure:"createTime"`
		LocationCreated string         `mapstructure:"locationCreated"`
		Author          Author         `mapstructure:"author"`
		AuthorStats     map[string]any `mapstructure:"authorStats"`
		Music           Music          `mapstructure:"music"`
		Stats           Statistics     `mapstructure:"stats"`
		Video           Video          `mapstructure:"video"`
		ImagePost       *ImagePost     `mapstructure:"imagePost"`
		DuetInfo        map[string]any `mapstructure:"duetInfo"`
		StitchInfo      map[string]any `mapstructure:"stitchInfo"`
		WarnInfo        []any          `mapstructure:"warnInfo"`
		PrivateItem     bool           `mapstructure:"privateItem"`
	}

	Author struct {
		UniqueID  string `mapstructure:"uniqueId"`
		Nickname  string `mapstructure:"nickname"`
		Signature string `mapstructure:"signature"`
		Verified  bool   `mapstructure:"verified"`
	}

	Music struct {
		Title      string `mapstructure:"title"`
		AuthorName string `mapstructure:"authorName"`
		Original   bool   `mapstructure:"original"`
	}

	Statistics struct {
		DiggCount    int64 `mapstructure:"diggCount"`
		CommentCount int64 `mapstructure:"commentCount"`
		ShareCount   int64 `mapstructure:"shareCount"`
		PlayCount    int64 `mapstructure:"playCount"`
	}

	Video struct {
		PlayAddr string `mapstructure:"playAddr"`
		Duration int    `mapstructure:"duration"`
	}

	ImagePost struct {
		Images []Image `mapstructure:"images"`
	}

	Image struct {
		ImageURL ImageURL `mapstructure:"imageURL"`
	}

	ImageURL struct {
		URLList []string `mapstructure:"urlList"`
	}

	// itemDetailEnvelope is the raw response document; itemStruct is kept
	// loosely typed so mapstructure can project it once we've classified
	// the response.
	itemDetailEnvelope struct {
		StatusCode int            `json:"statusCode"`
		ItemInfo   map[string]any `json:"itemInfo"`
	}
)

// NewSession constructs and initialises a new authenticated session
// against the upstream source. The handshake primes the cookie jar by
// visiting the web frontend with the configured ms_token credential.
// This is a slow operation and must not be invoked concurrently with
// itself; the session manager enforces that.
func NewSession(ctx context.Context, config Config) (*Session, error) {
	if config.MsToken == "" {
		return nil, &UnknownRequestError{"cannot create session without an ms_token credential"}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to construct cookie jar: %s", err.Error())}
	}

	session := &Session{
		msToken:   config.MsToken,
		client:    &http.Client{Jar: jar, Timeout: requestTimeout},
		createdAt: time.Now(),
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(handshakeCtx, http.MethodGet, webBaseURL, nil)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to construct handshake request: %s", err.Error())}
	}
	session.decorateRequest(req)

	resp, err := session.client.Do(req)
	if err != nil {
		return nil, &RequestFailedError{httpCode: -1, message: fmt.Sprintf("session handshake failed: %s", err.Error())}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &RequestFailedError{httpCode: resp.StatusCode, message: "session handshake rejected by upstream"}
	}

	log.Emit(logger.SUCCESS, "Upstream session established (handshake took %s)\n", time.Since(session.createdAt))
	return session, nil
}

// FetchItemDetail queries the upstream item-detail API for the clip ID
// provided, returning the typed item document.
//
// Failure classification:
//   - HTTP 401/403, or a well-formed response missing its item document
//     (the upstream serves an empty envelope when the session's
//     authentication has lapsed) => SessionExpiredError
//   - an explicit item-not-found status code                => ErrClipNotFound
//   - any other transport or status failure                 => RequestFailedError
func (session *Session) FetchItemDetail(ctx context.Context, clipID string) (*ItemDetail, error) {
	path := fmt.Sprintf(itemDetailTemplate, webBaseURL, url.QueryEscape(clipID), url.QueryEscape(session.msToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to construct item detail request: %s", err.Error())}
	}
	session.decorateRequest(req)

	resp, err := session.client.Do(req)
	if err != nil {
		return nil, &RequestFailedError{httpCode: -1, message: fmt.Sprintf("item detail request failed: %s", err.Error())}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &SessionExpiredError{fmt.Sprintf("item detail request rejected with HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to read item detail response body: %s", err.Error())}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestFailedError{httpCode: resp.StatusCode, message: "non-OK response from item detail API"}
	}

	var envelope itemDetailEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("item detail response could not be unmarshalled: %s", err.Error())}
	}

	if envelope.StatusCode == itemNotFoundStatus {
		return nil, ErrClipNotFound
	}

	rawItem, ok := envelope.ItemInfo["itemStruct"].(map[string]any)
	if !ok || len(rawItem) == 0 {
		// An empty envelope with an OK transport status is how the
		// upstream signals a lapsed session rather than a missing item.
		return nil, &SessionExpiredError{"item detail response contained no item document"}
	}

	var detail ItemDetail
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &detail,
	})
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to construct item detail decoder: %s", err.Error())}
	}
	if err := decoder.Decode(rawItem); err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("item document could not be decoded: %s", err.Error())}
	}

	return &detail, nil
}

// itemNotFoundStatus is the upstream's body-level status code for a
// missing/removed item.
const itemNotFoundStatus = 10204

// DownloadMedia fetches the raw bytes behind a media URL using this
// session's cookies and headers. Media URLs are only valid for the
// session that resolved them, so a 403 here is classified session-fatal.
func (session *Session) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, &UnknownRequestError{fmt.Sprintf("failed to construct media download request: %s", err.Error())}
	}
	session.decorateRequest(req)

	resp, err := session.client.Do(req)
	if err != nil {
		return nil, &RequestFailedError{httpCode: -1, message: fmt.Sprintf("media download failed: %s", err.Error())}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &SessionExpiredError{fmt.Sprintf("media download rejected with HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestFailedError{httpCode: resp.StatusCode, message: "non-OK response while downloading media"}
	}

	bytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestFailedError{httpCode: resp.StatusCode, message: fmt.Sprintf("media download interrupted: %s", err.Error())}
	}

	return bytes, nil
}

// CreatedAt reports when this session completed its handshake.
func (session *Session) CreatedAt() time.Time {
	return session.createdAt
}

func (session *Session) decorateRequest(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", refererValue)
	req.AddCookie(&http.Cookie{Name: "msToken", Value: session.msToken})
}

// ResolveShareURL follows the redirect chain of a (possibly shortened)
// share link and returns the canonical URL with query parameters
// stripped. A transport failure is not fatal; the input is returned with
// its query stripped so extraction can still be attempted.
func ResolveShareURL(ctx context.Context, raw string) string {
	stripped := stripQuery(raw)
	if !strings.Contains(raw, "tiktok.com") {
		return stripped
	}

	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(resolveCtx, http.MethodHead, raw, nil)
	if err != nil {
		return stripped
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Emit(logger.WARNING, "Failed to resolve share URL %s: %s\n", raw, err.Error())
		return stripped
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	final := stripQuery(resp.Request.URL.String())
	log.Emit(logger.DEBUG, "Share URL %s resolved to %s\n", raw, final)
	return final
}

func stripQuery(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx != -1 {
		return raw[:idx]
	}

	return raw
}
