package classify_test

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/vaultline/ingestcore/internal/classify"
)

func item(eventType, icon, title, subtitle, cashAccount string, amount float64) classify.RawItem {
	var amt *classify.Amount
	if amount != 0 || subtitle != "" || title != "" {
		v := classify.Amount{Value: numberOf(amount), Currency: "EUR"}
		amt = &v
	}
	return classify.RawItem{
		EventType:         eventType,
		Icon:              icon,
		Title:             title,
		Subtitle:          subtitle,
		CashAccountNumber: cashAccount,
		Amount:            amt,
	}
}

func numberOf(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}

func TestClassifyEventTypePrecedence(t *testing.T) {
	// A card event type must win even when other fields suggest a transfer,
	// proving event-type rules are checked before icon/title/subtitle rules.
	it := item("card_successful_transaction", "", "Transfer to John", "transfer", "", -10)
	if got := classify.Classify(it); got != classify.CategoryCard {
		t.Errorf("category: got %v, want %v", got, classify.CategoryCard)
	}
}

func TestClassifyTransferInEvent(t *testing.T) {
	it := item("PAYMENT_INBOUND", "", "", "", "", 50)
	if got := classify.Classify(it); got != classify.CategoryTransferIn {
		t.Errorf("category: got %v, want %v", got, classify.CategoryTransferIn)
	}
}

func TestClassifyMerchantIcon(t *testing.T) {
	it := item("", "merchant-lidl", "Lidl", "", "", -5)
	if got := classify.Classify(it); got != classify.CategoryCard {
		t.Errorf("category: got %v, want %v", got, classify.CategoryCard)
	}
}

func TestClassifyTransferKeywordSignBased(t *testing.T) {
	in := item("", "", "Transfer from Jane", "", "", 20)
	if got := classify.Classify(in); got != classify.CategoryTransferIn {
		t.Errorf("positive transfer: got %v, want %v", got, classify.CategoryTransferIn)
	}
	out := item("", "", "Transfer to Jane", "", "", -20)
	if got := classify.Classify(out); got != classify.CategoryTransferOut {
		t.Errorf("negative transfer: got %v, want %v", got, classify.CategoryTransferOut)
	}
}

func TestClassifyInvestmentSubtitleKeyword(t *testing.T) {
	it := item("", "", "", "buy order executed", "", -100)
	if got := classify.Classify(it); got != classify.CategoryInvestment {
		t.Errorf("category: got %v, want %v", got, classify.CategoryInvestment)
	}
}

func TestClassifyCashAccountNumberFallback(t *testing.T) {
	it := item("", "", "Some Title", "", "DE00000000000000000000", -1)
	if got := classify.Classify(it); got != classify.CategoryInvestment {
		t.Errorf("category: got %v, want %v", got, classify.CategoryInvestment)
	}
}

func TestClassifyNoSubtitleNoCashAccountNegativeAmount(t *testing.T) {
	it := classify.RawItem{Amount: &classify.Amount{Value: numberOf(-3)}}
	if got := classify.Classify(it); got != classify.CategoryCard {
		t.Errorf("category: got %v, want %v", got, classify.CategoryCard)
	}
}

func TestClassifyFallsThroughToOther(t *testing.T) {
	it := classify.RawItem{Title: "Mystery event"}
	if got := classify.Classify(it); got != classify.CategoryOther {
		t.Errorf("category: got %v, want %v", got, classify.CategoryOther)
	}
}

func TestNormalizeDefaultsCurrencyAndMerchant(t *testing.T) {
	it := classify.RawItem{}
	n := classify.Normalize(it, classify.CategoryOther)
	if n.Currency != "EUR" {
		t.Errorf("currency: got %q, want EUR", n.Currency)
	}
	if n.Merchant != "Unknown" {
		t.Errorf("merchant: got %q, want Unknown", n.Merchant)
	}
}

func TestNormalizeAmountAbsentYieldsZeroValidJSONNumber(t *testing.T) {
	it := classify.RawItem{}
	n := classify.Normalize(it, classify.CategoryOther)
	if n.AmountSigned.String() != "0" {
		t.Errorf("amount signed: got %q, want 0", n.AmountSigned.String())
	}
	if _, err := n.AmountSigned.Float64(); err != nil {
		t.Errorf("amount signed %q is not a valid JSON number: %v", n.AmountSigned.String(), err)
	}
}

func TestNormalizeAmountSignedIsBitExact(t *testing.T) {
	it := classify.RawItem{Amount: &classify.Amount{Value: numberOf(-123.456), Currency: "EUR"}}
	n := classify.Normalize(it, classify.CategoryCard)
	if n.AmountSigned.String() != "-123.456" {
		t.Errorf("amount signed: got %q, want -123.456", n.AmountSigned.String())
	}
}
