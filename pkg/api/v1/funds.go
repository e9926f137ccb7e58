package v1

import "time"

type Transaction struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type DepositRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Method   string  `json:"method"`
}

type WithdrawalRequest struct {
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Method        string  `json:"method"`
	WalletAddress string  `json:"wallet_address,omitempty"`
}

type Wallet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Network     string    `json:"network"`
	ConnectedAt time.Time `json:"connected_at"`
}

type ConnectWalletRequest struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phrase  string `json:"phrase,omitempty"`
	Network string `json:"network,omitempty"`
}

type DisconnectWalletRequest struct {
	WalletID string `json:"wallet_id"`
}
