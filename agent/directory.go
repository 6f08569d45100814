package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by a Directory for unknown ids.
var ErrNotFound = errors.New("not found")

// CustomerSummary 客户概况。
type CustomerSummary struct {
	CustomerID   string   `json:"customer_id"`
	TotalCalls   int      `json:"total_calls"`
	RecentCalls  []string `json:"recent_calls"`
	ActiveClaims []string `json:"active_claims"`
}

// CallRecord 一通历史通话。
type CallRecord struct {
	CallID     string    `json:"call_id"`
	CustomerID string    `json:"-"`
	Status     string    `json:"status"`
	Duration   int       `json:"duration"`
	Transcript string    `json:"transcript"`
	Messages   []Message `json:"messages"`
	StartedAt  time.Time `json:"-"`
}

// Message 是通话记录里的一条发言。
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ClaimRequest 创建工单的参数。
type ClaimRequest struct {
	CustomerID  string `json:"customer_id"`
	ClaimType   string `json:"claim_type"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// Claim 一张工单。
type Claim struct {
	ID          string    `json:"claim_id"`
	CustomerID  string    `json:"customer_id"`
	ClaimType   string    `json:"claim_type"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Article 知识库条目。
type Article struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// Product 产品目录条目。
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	InStock     bool    `json:"in_stock"`
	Description string  `json:"description"`
}

// Directory 是呼叫中心工具背后的数据源。
type Directory interface {
	Customer(ctx context.Context, customerID string) (CustomerSummary, error)
	CallHistory(ctx context.Context, callID string) (CallRecord, error)
	CreateClaim(ctx context.Context, req ClaimRequest) (Claim, error)
	SearchKnowledge(ctx context.Context, query, category string) ([]Article, error)
	Product(ctx context.Context, productID string) (Product, error)
	ProductIDs(ctx context.Context) ([]string, error)
}

// MemoryDirectory 内存实现，预置知识库与产品目录。
type MemoryDirectory struct {
	mu        sync.RWMutex
	calls     map[string]CallRecord
	claims    map[string]Claim
	knowledge []Article
	products  map[string]Product
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates a directory seeded with the default catalog.
func NewMemoryDirectory() *MemoryDirectory {
	d := &MemoryDirectory{
		calls:     make(map[string]CallRecord),
		claims:    make(map[string]Claim),
		knowledge: defaultKnowledge(),
		products:  make(map[string]Product),
	}
	for _, p := range defaultProducts() {
		d.products[p.ID] = p
	}
	return d
}

func defaultKnowledge() []Article {
	return []Article{
		{
			ID:       "refund_policy",
			Title:    "Refund Policy",
			Content:  "Customers can request a refund within 30 days of purchase. Refunds are processed within 5-7 business days. Items must be in original condition.",
			Category: "policy",
		},
		{
			ID:       "shipping_info",
			Title:    "Shipping Information",
			Content:  "Standard shipping takes 3-5 business days. Express shipping takes 1-2 business days. Free shipping on orders over $50.",
			Category: "shipping",
		},
		{
			ID:       "technical_support",
			Title:    "Technical Support",
			Content:  "For technical issues, try restarting the device first. Check for software updates. Contact support if the issue persists.",
			Category: "support",
		},
		{
			ID:       "warranty_info",
			Title:    "Warranty Information",
			Content:  "All products come with a 1-year manufacturer warranty. Extended warranty available for purchase. Warranty covers manufacturing defects only.",
			Category: "warranty",
		},
	}
}

func defaultProducts() []Product {
	return []Product{
		{ID: "PROD-001", Name: "Premium Headphones", Price: 199.99, Category: "Electronics", InStock: true, Description: "High-quality wireless headphones with noise cancellation"},
		{ID: "PROD-002", Name: "Smart Watch", Price: 299.99, Category: "Electronics", InStock: true, Description: "Fitness tracking smartwatch with heart rate monitor"},
		{ID: "PROD-003", Name: "Laptop Stand", Price: 49.99, Category: "Accessories", InStock: false, Description: "Ergonomic aluminum laptop stand"},
	}
}

// RecordCall 保存一通通话，供 get_customer_info / get_call_history 查询。
func (d *MemoryDirectory) RecordCall(rec CallRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[rec.CallID] = rec
}

// Customer 汇总客户的通话数、最近 5 通通话与未关闭工单。
func (d *MemoryDirectory) Customer(_ context.Context, customerID string) (CustomerSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var calls []CallRecord
	for _, c := range d.calls {
		if c.CustomerID == customerID {
			calls = append(calls, c)
		}
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].StartedAt.After(calls[j].StartedAt) })

	out := CustomerSummary{
		CustomerID:   customerID,
		TotalCalls:   len(calls),
		RecentCalls:  []string{},
		ActiveClaims: []string{},
	}
	for i, c := range calls {
		if i == 5 {
			break
		}
		out.RecentCalls = append(out.RecentCalls, c.CallID)
	}
	for _, cl := range d.claims {
		if cl.CustomerID == customerID && (cl.Status == "open" || cl.Status == "in_progress") {
			out.ActiveClaims = append(out.ActiveClaims, cl.ID)
		}
	}
	sort.Strings(out.ActiveClaims)
	return out, nil
}

// CallHistory returns one recorded call.
func (d *MemoryDirectory) CallHistory(_ context.Context, callID string) (CallRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.calls[callID]
	if !ok {
		return CallRecord{}, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	return c, nil
}

// CreateClaim 新建状态为 open 的工单。
func (d *MemoryDirectory) CreateClaim(_ context.Context, req ClaimRequest) (Claim, error) {
	if req.Priority == "" {
		req.Priority = "medium"
	}
	claim := Claim{
		ID:          uuid.NewString(),
		CustomerID:  req.CustomerID,
		ClaimType:   req.ClaimType,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      "open",
		CreatedAt:   time.Now(),
	}
	d.mu.Lock()
	d.claims[claim.ID] = claim
	d.mu.Unlock()
	return claim, nil
}

// SearchKnowledge 在标题与正文中做大小写无关的关键字匹配。
func (d *MemoryDirectory) SearchKnowledge(_ context.Context, query, category string) ([]Article, error) {
	q := strings.ToLower(query)
	out := []Article{}
	for _, a := range d.knowledge {
		if category != "" && a.Category != category {
			continue
		}
		if strings.Contains(strings.ToLower(a.Title), q) || strings.Contains(strings.ToLower(a.Content), q) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Product returns one catalog entry.
func (d *MemoryDirectory) Product(_ context.Context, productID string) (Product, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return p, nil
}

// ProductIDs lists the catalog ids in order.
func (d *MemoryDirectory) ProductIDs(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.products))
	for id := range d.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
