package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"tradegate/pkg/constraints"
	"tradegate/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ProbeResult is the outcome of re-validating a browser session server side.
type ProbeResult struct {
	OK bool
	// SetCookies are the cookies issued by a refresh during the probe. They
	// must be relayed to the browser or the renewed session is lost.
	SetCookies []*http.Cookie
}

// ProbeSession validates a browser's cookies against the check-session
// endpoint. It follows the same contract as Client.Do: one refresh on 401,
// then a single retry with the renewed cookies. It keeps no state between
// calls; SessionProber adds the shared refresh on top of it.
func ProbeSession(ctx context.Context, hc *http.Client, baseURL string, cookies []*http.Cookie) (ProbeResult, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	status, err := checkSession(ctx, hc, baseURL, cookies)
	if err != nil {
		return ProbeResult{}, err
	}
	if status != http.StatusUnauthorized {
		return ProbeResult{OK: isSuccess(status)}, nil
	}
	return renewSession(ctx, hc, baseURL, cookies)
}

func checkSession(ctx context.Context, hc *http.Client, baseURL string, cookies []*http.Cookie) (int, error) {
	status, _, err := probeCall(ctx, hc, http.MethodGet, baseURL+constraints.CheckSessionEndpoint, cookies)
	return status, err
}

// renewSession refreshes with the given cookies and re-checks the session.
// Cookies issued by a successful refresh are always returned, even when the
// re-check fails, since the backend has already rotated the old ones.
func renewSession(ctx context.Context, hc *http.Client, baseURL string, cookies []*http.Cookie) (ProbeResult, error) {
	refreshStatus, issued, err := probeCall(ctx, hc, http.MethodPost, baseURL+constraints.RefreshEndpoint, cookies)
	if err != nil || !isSuccess(refreshStatus) {
		logger.Debug("session probe refresh failed", zap.Int("status", refreshStatus), zap.Error(err))
		return ProbeResult{}, nil
	}

	status, err := checkSession(ctx, hc, baseURL, mergeCookies(cookies, issued))
	if err != nil {
		return ProbeResult{SetCookies: issued}, err
	}
	return ProbeResult{OK: isSuccess(status), SetCookies: issued}, nil
}

func probeCall(ctx context.Context, hc *http.Client, method, target string, cookies []*http.Cookie) (int, []*http.Cookie, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("client: build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, target, err)
	}
	defer drain(resp)
	return resp.StatusCode, resp.Cookies(), nil
}

// mergeCookies overlays issued on top of current by name; a cookie issued
// already expired removes the name.
func mergeCookies(current, issued []*http.Cookie) []*http.Cookie {
	byName := make(map[string]*http.Cookie, len(current)+len(issued))
	order := make([]string, 0, len(current)+len(issued))
	for _, ck := range current {
		if _, seen := byName[ck.Name]; !seen {
			order = append(order, ck.Name)
		}
		byName[ck.Name] = ck
	}
	now := time.Now()
	for _, ck := range issued {
		if ck.MaxAge < 0 || (!ck.Expires.IsZero() && ck.Expires.Before(now)) {
			delete(byName, ck.Name)
			continue
		}
		if _, seen := byName[ck.Name]; !seen {
			order = append(order, ck.Name)
		}
		byName[ck.Name] = ck
	}

	out := make([]*http.Cookie, 0, len(byName))
	for _, name := range order {
		if ck, ok := byName[name]; ok {
			out = append(out, ck)
			delete(byName, name)
		}
	}
	return out
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// refreshGrace is how long a finished refresh keeps answering checks that
// still present the refresh token it rotated out.
const refreshGrace = 10 * time.Second

// SessionProber verifies browser sessions against one backend. Checks that
// present the same refresh token share one refresh call and its result,
// since the backend accepts each refresh token only once.
type SessionProber struct {
	BaseURL    string
	HTTPClient *http.Client

	group  singleflight.Group
	mu     sync.Mutex
	recent map[string]renewal
}

type renewal struct {
	res ProbeResult
	at  time.Time
}

func NewSessionProber(baseURL string, timeout time.Duration) *SessionProber {
	return &SessionProber{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *SessionProber) Verify(ctx context.Context, cookies []*http.Cookie) (ProbeResult, error) {
	baseURL := strings.TrimRight(p.BaseURL, "/")

	status, err := checkSession(ctx, p.HTTPClient, baseURL, cookies)
	if err != nil {
		return ProbeResult{}, err
	}
	if status != http.StatusUnauthorized {
		return ProbeResult{OK: isSuccess(status)}, nil
	}

	refreshToken := cookieValue(cookies, constraints.RefreshTokenCookie)
	if refreshToken == "" {
		return ProbeResult{}, nil
	}
	if res, ok := p.recentRenewal(refreshToken); ok {
		return res, nil
	}

	ch := p.group.DoChan(refreshToken, func() (any, error) {
		if res, ok := p.recentRenewal(refreshToken); ok {
			return res, nil
		}
		// shared by every waiter, so no single caller may cancel it
		res, err := renewSession(context.WithoutCancel(ctx), p.HTTPClient, baseURL, cookies)
		if len(res.SetCookies) > 0 {
			p.remember(refreshToken, res)
		}
		return res, err
	})

	select {
	case r := <-ch:
		return r.Val.(ProbeResult), r.Err
	case <-ctx.Done():
		return ProbeResult{}, ctx.Err()
	}
}

func (p *SessionProber) recentRenewal(refreshToken string) (ProbeResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.recent[refreshToken]
	if !ok || time.Since(r.at) > refreshGrace {
		return ProbeResult{}, false
	}
	return r.res, true
}

func (p *SessionProber) remember(refreshToken string, res ProbeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for k, r := range p.recent {
		if now.Sub(r.at) > refreshGrace {
			delete(p.recent, k)
		}
	}
	if p.recent == nil {
		p.recent = make(map[string]renewal)
	}
	p.recent[refreshToken] = renewal{res: res, at: now}
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}
