// Package timeline implements cursor-paginated retrieval of the full
// transaction timeline over an open stream subscription.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vaultline/ingestcore/internal/classify"
	"github.com/vaultline/ingestcore/internal/logger"
	"github.com/vaultline/ingestcore/internal/metrics"
	"github.com/vaultline/ingestcore/internal/streammux"
)

// MaxPages is the hard ceiling on pagination rounds, independent of any
// configured N-limit, so a server that never returns an absent cursor can
// never spin the pager forever.
const MaxPages = 500

// Page is one fetched, decoded page of timeline items.
type Page struct {
	Items  []classify.RawItem
	Cursor string // empty means no further page
}

type timelinePayload struct {
	Items   []json.RawMessage `json:"items"`
	Cursors struct {
		After *string `json:"after"`
	} `json:"cursors"`
}

// Pager drives the cursor-chained pagination loop against an open mux.
type Pager struct {
	mux              *streammux.Mux
	awaitDeadline    time.Duration
	maxPages         int
	limit            int // 0 means unlimited
	classifier       *classify.Classifier
	log              *logger.Logger
	metrics          *metrics.Registry
}

// NewPager returns a Pager. maxPages<=0 defaults to MaxPages; limit<=0 means
// unlimited.
func NewPager(mux *streammux.Mux, awaitDeadline time.Duration, maxPages, limit int, classifier *classify.Classifier, log *logger.Logger, m *metrics.Registry) *Pager {
	if maxPages <= 0 {
		maxPages = MaxPages
	}
	return &Pager{
		mux:           mux,
		awaitDeadline: awaitDeadline,
		maxPages:      maxPages,
		limit:         limit,
		classifier:    classifier,
		log:           log,
		metrics:       m,
	}
}

// Drain fetches pages until the server stops returning a cursor, maxPages
// rounds elapse, or the configured item limit is reached, classifying every
// item as its page arrives. It returns the accumulated normalized
// transactions in page order.
func (p *Pager) Drain(ctx context.Context) ([]classify.NormalizedTxn, error) {
	var out []classify.NormalizedTxn
	cursor := ""

	for page := 0; page < p.maxPages; page++ {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		start := time.Now()
		items, rawMaps, nextCursor, err := p.fetchPage(cursor)
		if p.metrics != nil {
			p.metrics.PageLatency.Observe(time.Since(start).Seconds())
			p.metrics.PagesFetched.Inc()
		}
		if err != nil {
			return out, fmt.Errorf("timeline: fetch page %d: %w", page, err)
		}

		normalized := p.classify(items, rawMaps)
		out = append(out, normalized...)

		if p.limit > 0 && len(out) >= p.limit {
			out = out[:p.limit]
			return out, nil
		}
		if nextCursor == "" {
			return out, nil
		}
		cursor = nextCursor
	}
	if p.log != nil {
		p.log.Warnf("timeline: hit max pages (%d) without exhausting cursor", p.maxPages)
	}
	return out, nil
}

func (p *Pager) fetchPage(cursor string) ([]classify.RawItem, []map[string]interface{}, string, error) {
	payload := `{"type":"timelineTransactions"}`
	if cursor != "" {
		payload = fmt.Sprintf(`{"type":"timelineTransactions","after":%q}`, cursor)
	}

	subID := p.mux.Subscribe(payload)
	frame, err := p.mux.AwaitInitial(subID, p.awaitDeadline)
	if err != nil {
		return nil, nil, "", err
	}

	var tp timelinePayload
	if err := json.Unmarshal([]byte(frame.Payload), &tp); err != nil {
		return nil, nil, "", fmt.Errorf("decode timeline page: %w", err)
	}

	items := make([]classify.RawItem, 0, len(tp.Items))
	rawMaps := make([]map[string]interface{}, 0, len(tp.Items))
	for _, raw := range tp.Items {
		item, err := classify.DecodeRawItem(raw)
		if err != nil {
			if p.metrics != nil {
				p.metrics.DecodeErrors.Inc()
			}
			if p.log != nil {
				p.log.ErrorErr("timeline: dropping malformed item", err)
			}
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			m = nil
		}
		items = append(items, item)
		rawMaps = append(rawMaps, m)
	}

	cursor := ""
	if tp.Cursors.After != nil {
		cursor = *tp.Cursors.After
	}
	return items, rawMaps, cursor, nil
}

func (p *Pager) classify(items []classify.RawItem, rawMaps []map[string]interface{}) []classify.NormalizedTxn {
	if p.classifier == nil {
		out := make([]classify.NormalizedTxn, len(items))
		for i, it := range items {
			out[i] = classify.Normalize(it, classify.Classify(it))
		}
		return out
	}
	return p.classifier.ClassifyPage(items, rawMaps)
}
