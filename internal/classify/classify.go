// Package classify implements the timeline item classification and
// normalization decision procedure: given a raw timeline item, assign it to
// exactly one category by walking an ordered list of rules and taking the
// first match.
package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/vaultline/ingestcore/internal/metrics"
	"github.com/vaultline/ingestcore/internal/schemadrift"
	"github.com/vaultline/ingestcore/internal/workerpool"
)

// Category is the classification outcome for a timeline item.
type Category string

const (
	CategoryCard         Category = "card"
	CategoryTransferIn   Category = "transfer_in"
	CategoryTransferOut  Category = "transfer_out"
	CategoryInvestment   Category = "investment"
	CategoryOther        Category = "other"
)

var cardEvents = set(
	"card_successful_transaction",
	"card_failed_transaction",
	"card_refund",
	"card_successful_verification",
)

var transferInEvents = set(
	"PAYMENT_INBOUND",
	"PAYMENT_INBOUND_SEPA_DIRECT_DEBIT",
	"INCOMING_TRANSFER",
	"INCOMING_TRANSFER_DELEGATION",
	"CREDIT",
)

var transferOutEvents = set(
	"PAYMENT_OUTBOUND",
	"OUTGOING_TRANSFER_DELEGATION",
)

var investmentEvents = set(
	"ORDER_EXECUTED",
	"SAVINGS_PLAN_EXECUTED",
	"SAVINGS_PLAN_INVOICE_CREATED",
	"INTEREST_PAYOUT",
	"INTEREST_PAYOUT_CREATED",
	"DIVIDEND_PAYOUT",
	"trading_savingsplan_executed",
	"ssp_corporate_action_invoice_cash",
	"TRADE_INVOICE",
	"benefits_saveback_execution",
	"benefits_spare_change_execution",
	"timeline_legacy_migrated_events",
)

var investmentSubtitleKeywords = []string{
	"buy order", "sell order", "saving executed", "saveback", "round up",
	"pea", "dividend", "interest", "deposit", "withdrawal", "transfer",
	"tax", "fee",
}

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

// Amount mirrors the raw item's amount object. Value is decoded as
// json.Number so its sign and digits are carried through verbatim — never
// parsed into a float and recomputed, which would risk losing precision or
// flipping sign on an edge-case value.
type Amount struct {
	Value    json.Number `json:"value"`
	Currency string      `json:"currency"`
}

// RawItem is a single entry from a timeline page, decoded with
// json.Number so amount.value is never rounded.
type RawItem struct {
	ID                string  `json:"id"`
	EventType         string  `json:"eventType"`
	Icon              string  `json:"icon"`
	Title             string  `json:"title"`
	Subtitle          string  `json:"subtitle"`
	Amount            *Amount `json:"amount"`
	Status            string  `json:"status"`
	Timestamp         string  `json:"timestamp"`
	CashAccountNumber string  `json:"cashAccountNumber"`
}

// DecodeRawItem decodes a single JSON item using json.Number for numeric
// fields, per RawItem's bit-exactness requirement.
func DecodeRawItem(data []byte) (RawItem, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var item RawItem
	if err := dec.Decode(&item); err != nil {
		return RawItem{}, fmt.Errorf("classify: decode raw item: %w", err)
	}
	return item, nil
}

// NormalizedTxn is the output of classification: a RawItem assigned to a
// category with its fields normalized.
type NormalizedTxn struct {
	ID           string
	Category     Category
	AmountSigned json.Number
	Currency     string
	Merchant     string
	Status       string
	Timestamp    string
}

// Classify applies the ordered decision procedure to a single item. Rules
// are evaluated in order; the first match wins.
func Classify(item RawItem) Category {
	if _, ok := cardEvents[item.EventType]; ok {
		return CategoryCard
	}
	if _, ok := transferInEvents[item.EventType]; ok {
		return CategoryTransferIn
	}
	if _, ok := transferOutEvents[item.EventType]; ok {
		return CategoryTransferOut
	}
	if _, ok := investmentEvents[item.EventType]; ok {
		return CategoryInvestment
	}
	if strings.Contains(item.Icon, "merchant-") {
		return CategoryCard
	}

	title := strings.ToLower(item.Title)
	subtitle := strings.ToLower(item.Subtitle)

	if strings.Contains(title, "transfer") || strings.Contains(subtitle, "transfer") {
		if amountPositive(item.Amount) {
			return CategoryTransferIn
		}
		return CategoryTransferOut
	}
	if strings.Contains(title, "deposit") || strings.Contains(subtitle, "deposit") {
		return CategoryTransferIn
	}
	if strings.Contains(title, "withdrawal") || strings.Contains(subtitle, "withdrawal") {
		return CategoryTransferOut
	}
	for _, kw := range investmentSubtitleKeywords {
		if strings.Contains(subtitle, kw) {
			return CategoryInvestment
		}
	}
	if item.CashAccountNumber != "" {
		return CategoryInvestment
	}
	if item.Subtitle == "" && item.CashAccountNumber == "" && amountNegative(item.Amount) {
		return CategoryCard
	}
	return CategoryOther
}

func amountPositive(a *Amount) bool {
	if a == nil {
		return false
	}
	f, err := a.Value.Float64()
	return err == nil && f > 0
}

func amountNegative(a *Amount) bool {
	if a == nil {
		return false
	}
	f, err := a.Value.Float64()
	return err == nil && f < 0
}

// Normalize converts item into its NormalizedTxn, given its already-decided
// category.
func Normalize(item RawItem, category Category) NormalizedTxn {
	currency := "EUR"
	amount := json.Number("0")
	if item.Amount != nil {
		amount = item.Amount.Value
		if item.Amount.Currency != "" {
			currency = item.Amount.Currency
		}
	}
	merchant := item.Title
	if merchant == "" {
		merchant = "Unknown"
	}
	return NormalizedTxn{
		ID:           item.ID,
		Category:     category,
		AmountSigned: amount,
		Currency:     currency,
		Merchant:     merchant,
		Status:       item.Status,
		Timestamp:    item.Timestamp,
	}
}

// Classifier fans out classification of a page's items across a worker
// pool once the page is large enough to be worth it, and separately checks
// each raw item's shape for drift relative to the first page seen this run.
type Classifier struct {
	pool      *workerpool.Pool
	threshold int
	drift     *schemadrift.Detector
	metrics   *metrics.Registry
	onDrift   func(mismatches []schemadrift.Mismatch, item RawItem)
}

// NewClassifier returns a Classifier. pool may be nil, in which case every
// page is classified sequentially regardless of threshold.
func NewClassifier(pool *workerpool.Pool, threshold int, drift *schemadrift.Detector, m *metrics.Registry) *Classifier {
	return &Classifier{pool: pool, threshold: threshold, drift: drift, metrics: m}
}

// OnDrift registers a callback invoked whenever an item's shape diverges
// from the learned baseline. Drift never blocks or fails classification.
func (c *Classifier) OnDrift(fn func(mismatches []schemadrift.Mismatch, item RawItem)) {
	c.onDrift = fn
}

// ClassifyPage classifies and normalizes every item in a page, preserving
// the original order of items regardless of whether classification ran
// sequentially or across the worker pool.
func (c *Classifier) ClassifyPage(items []RawItem, rawMaps []map[string]interface{}) []NormalizedTxn {
	out := make([]NormalizedTxn, len(items))

	classifyOne := func(i int) {
		cat := Classify(items[i])
		out[i] = Normalize(items[i], cat)
		if c.metrics != nil {
			c.metrics.ItemsClassified.WithLabelValues(string(cat)).Inc()
		}
		if c.drift != nil && i < len(rawMaps) && rawMaps[i] != nil {
			if mismatches := c.drift.Check(rawMaps[i]); len(mismatches) > 0 {
				if c.metrics != nil {
					c.metrics.DriftReports.Add(float64(len(mismatches)))
				}
				if c.onDrift != nil {
					c.onDrift(mismatches, items[i])
				}
			}
		}
	}

	if c.pool == nil || len(items) < c.threshold {
		for i := range items {
			classifyOne(i)
		}
		return out
	}

	var wg sync.WaitGroup
	wg.Add(len(items))
	for i := range items {
		i := i
		c.pool.Submit(func() {
			defer wg.Done()
			classifyOne(i)
		})
	}
	wg.Wait()
	return out
}
