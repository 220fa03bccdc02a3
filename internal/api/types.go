package api

import (
	"strings"
	"time"
)

// VersionVector mirrors /versions. The counters are opaque: compare them for
// inequality only.
type VersionVector struct {
	Menu       int64 `json:"menu"`
	Categories int64 `json:"categories"`
	Banners    int64 `json:"banners"`
}

// MenuItem describes an orderable dish.
type MenuItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Discount    float64  `json:"discount"`
	Image       string   `json:"image"`
	CategoryID  string   `json:"categoryId"`
	Available   bool     `json:"available"`
	Tags        []string `json:"tags,omitempty"`
}

// Category groups menu items.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sortOrder"`
}

// MenuVersion mirrors /menu/version.
type MenuVersion struct {
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updatedAt"`
}

// Banner is a promotional banner shown on the landing page.
type Banner struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Image    string `json:"image"`
	Link     string `json:"link"`
	Active   bool   `json:"active"`
	Priority int    `json:"priority"`
}

// Transaction is a wallet ledger line.
type Transaction struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"createdAt"`
}

// ReferralStats summarises the user's referral activity.
type ReferralStats struct {
	TotalReferrals      int     `json:"totalReferrals"`
	SuccessfulReferrals int     `json:"successfulReferrals"`
	TotalEarned         float64 `json:"totalEarned"`
}

// WalletSummary mirrors /wallet/summary.
type WalletSummary struct {
	Balance       float64       `json:"balance"`
	ReferralCode  string        `json:"referralCode"`
	ReferralStats ReferralStats `json:"referralStats"`
}

// ReferralResult mirrors the apply-referral response.
type ReferralResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Bonus   float64 `json:"bonus"`
}

// OrderStatus is the lifecycle state of an order. Unknown values are kept
// verbatim and treated as terminal.
type OrderStatus string

const (
	StatusReceived       OrderStatus = "RECEIVED"
	StatusConfirmed      OrderStatus = "CONFIRMED"
	StatusPreparing      OrderStatus = "PREPARING"
	StatusReady          OrderStatus = "READY"
	StatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

// IsActive reports whether the order can still change and should be watched.
func (s OrderStatus) IsActive() bool {
	switch OrderStatus(strings.ToUpper(string(s))) {
	case StatusReceived, StatusConfirmed, StatusPreparing, StatusReady, StatusOutForDelivery:
		return true
	default:
		return false
	}
}

// Label renders the status for humans.
func (s OrderStatus) Label() string {
	if s == "" {
		return "Unknown"
	}
	words := strings.Split(strings.ToLower(string(s)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// StatusChange is one entry of an order's status history.
type StatusChange struct {
	Status    OrderStatus `json:"status"`
	Timestamp string      `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
}

// OrderItem is a line of a placed order.
type OrderItem struct {
	MenuItemID string  `json:"menuItemId"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
}

// Order mirrors /orders/{id}.
type Order struct {
	ID            string         `json:"id"`
	OrderNumber   string         `json:"orderNumber"`
	Status        OrderStatus    `json:"status"`
	StatusHistory []StatusChange `json:"statusHistory"`
	Items         []OrderItem    `json:"items"`
	Total         float64        `json:"total"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	dup := o
	if o.StatusHistory != nil {
		dup.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	}
	if o.Items != nil {
		dup.Items = append([]OrderItem(nil), o.Items...)
	}
	return dup
}

// ParsedUpdatedAt returns the parsed UpdatedAt timestamp.
func (o Order) ParsedUpdatedAt() time.Time {
	return parseTime(o.UpdatedAt)
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type referralCodeResponse struct {
	ReferralCode string `json:"referralCode"`
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
