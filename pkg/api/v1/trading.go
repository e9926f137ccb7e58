package v1

import "time"

type Stock struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	LogoURL       string  `json:"logo_url,omitempty"`
}

type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Category    string    `json:"category"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

type NewsFilter struct {
	Category string
	Search   string
}

type Trade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	ProfitLoss float64   `json:"profit_loss"`
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executed_at"`
}

type CopyTrader struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	AvatarURL   string  `json:"avatar_url,omitempty"`
	WinRate     float64 `json:"win_rate"`
	Followers   int     `json:"followers"`
	TotalReturn float64 `json:"total_return"`
}

type CopyTrade struct {
	Trade
	TraderID   string `json:"trader_id"`
	TraderName string `json:"trader_name"`
}
