package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	v1 "tradegate/pkg/api/v1"
	"tradegate/pkg/constraints"
)

// call encodes in (if any), performs the request through Do and decodes a 2xx
// body into a fresh T. Non-2xx responses become *APIError.
func call[T any](ctx context.Context, c *Client, method, endpoint string, in any) (T, error) {
	var out T

	opts := &RequestOptions{Method: method}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return out, fmt.Errorf("client: encode %s body: %w", endpoint, err)
		}
		opts.Body = b
	}

	resp, err := c.Do(ctx, endpoint, opts)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("%w: read %s response: %v", ErrNetwork, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, newAPIError(resp.StatusCode, body)
	}
	if len(body) == 0 || resp.StatusCode == http.StatusNoContent {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("client: decode %s response: %w", endpoint, err)
	}
	return out, nil
}

// -- Auth --

func (c *Client) Login(ctx context.Context, in v1.LoginRequest) (*v1.MessageResponse, error) {
	out, err := call[v1.MessageResponse](ctx, c, http.MethodPost, "/login/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, in v1.RegisterRequest) (*v1.MessageResponse, error) {
	out, err := call[v1.MessageResponse](ctx, c, http.MethodPost, "/register/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VerifyEmail(ctx context.Context, in v1.VerifyEmailRequest) (*v1.MessageResponse, error) {
	out, err := call[v1.MessageResponse](ctx, c, http.MethodPost, "/verify-email/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RequestPasswordReset(ctx context.Context, in v1.PasswordResetRequest) (*v1.MessageResponse, error) {
	out, err := call[v1.MessageResponse](ctx, c, http.MethodPost, "/password-reset/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ValidatePasswordReset(ctx context.Context, in v1.PasswordResetValidateRequest) (*v1.MessageResponse, error) {
	out, err := call[v1.MessageResponse](ctx, c, http.MethodPost, "/password-reset/validate/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, in v1.PasswordResetConfirmRequest) (*v1.MessageResponse, error) {
	out, err := call[v1.MessageResponse](ctx, c, http.MethodPost, "/password-reset/confirm/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := call[v1.MessageResponse](ctx, c, http.MethodPost, "/logout/", nil)
	return err
}

func (c *Client) CheckSession(ctx context.Context) (*v1.SessionStatus, error) {
	out, err := call[v1.SessionStatus](ctx, c, http.MethodGet, constraints.CheckSessionEndpoint, nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Account & market data --

func (c *Client) Profile(ctx context.Context) (*v1.Profile, error) {
	out, err := call[v1.Profile](ctx, c, http.MethodGet, "/profile/", nil)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stocks(ctx context.Context) ([]v1.Stock, error) {
	return call[[]v1.Stock](ctx, c, http.MethodGet, "/stocks/", nil)
}

func (c *Client) News(ctx context.Context, filter v1.NewsFilter) ([]v1.NewsItem, error) {
	endpoint := "/news/"
	q := url.Values{}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	return call[[]v1.NewsItem](ctx, c, http.MethodGet, endpoint, nil)
}

func (c *Client) TradeHistory(ctx context.Context) ([]v1.Trade, error) {
	return call[[]v1.Trade](ctx, c, http.MethodGet, "/trades/history/", nil)
}

func (c *Client) FollowedTraders(ctx context.Context) ([]v1.CopyTrader, error) {
	return call[[]v1.CopyTrader](ctx, c, http.MethodGet, "/copy-traders/following/", nil)
}

func (c *Client) CopyTrades(ctx context.Context) ([]v1.CopyTrade, error) {
	return call[[]v1.CopyTrade](ctx, c, http.MethodGet, "/copy-traders/trades/", nil)
}

// -- Funds --

func (c *Client) Deposits(ctx context.Context) ([]v1.Transaction, error) {
	return call[[]v1.Transaction](ctx, c, http.MethodGet, "/deposits/", nil)
}

func (c *Client) CreateDeposit(ctx context.Context, in v1.DepositRequest) (*v1.Transaction, error) {
	out, err := call[v1.Transaction](ctx, c, http.MethodPost, "/deposits/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Withdrawals(ctx context.Context) ([]v1.Transaction, error) {
	return call[[]v1.Transaction](ctx, c, http.MethodGet, "/withdrawals/", nil)
}

func (c *Client) CreateWithdrawal(ctx context.Context, in v1.WithdrawalRequest) (*v1.Transaction, error) {
	out, err := call[v1.Transaction](ctx, c, http.MethodPost, "/withdrawals/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// -- Wallets --

func (c *Client) Wallets(ctx context.Context) ([]v1.Wallet, error) {
	return call[[]v1.Wallet](ctx, c, http.MethodGet, "/wallets/", nil)
}

func (c *Client) ConnectWallet(ctx context.Context, in v1.ConnectWalletRequest) (*v1.Wallet, error) {
	out, err := call[v1.Wallet](ctx, c, http.MethodPost, "/wallets/connect/", in)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DisconnectWallet(ctx context.Context, in v1.DisconnectWalletRequest) error {
	_, err := call[v1.MessageResponse](ctx, c, http.MethodPost, "/wallets/disconnect/", in)
	return err
}
