package bridge

import (
	"encoding/json"

	"commerce-portal-backend/internal/uistream"
)

// DefaultSummary is used when the terminal payload carries no text.
const DefaultSummary = "I'm here to help. What would you like to explore?"

const (
	actionProceedToPayment = "proceed_to_payment"
	actionViewBundle       = "view_bundle"
)

// EnrichInput is the turn context the enricher needs besides the payload.
type EnrichInput struct {
	// TextStreamed is true when summary deltas already opened a segment.
	TextStreamed bool
	InputText    string
	// RequestBundleID is the bundle the client sent with the turn.
	RequestBundleID string
	// Thread is nil when persistence is off or the thread did not resolve.
	Thread *ThreadRef
}

// ThreadRef identifies the thread a turn was stored in.
type ThreadRef struct {
	ID      string
	Created bool
}

// Enrichment is the result of processing a terminal payload.
type Enrichment struct {
	Parts   []uistream.Part
	Summary string
	// Title is set only for threads created in this turn.
	Title string
}

// Enrich derives the outbound artifacts from a terminal payload, in order:
// summary text, product list, thematic options, engagement choice, payment
// form, thread metadata.
func Enrich(done *TerminalPayload, in EnrichInput) Enrichment {
	var out Enrichment
	if text, ok := done.SummaryText(); ok {
		out.Summary = text
	} else {
		out.Summary = DefaultSummary
	}
	if !in.TextStreamed {
		out.Parts = append(out.Parts, textSegment(out.Summary)...)
	}

	if products := done.Products(); len(products) > 0 {
		out.Parts = append(out.Parts, uistream.DataPart(uistream.DataProductList, map[string]any{
			"products": products,
		}))
	}

	options := done.BundleOptions()
	if len(options) > 0 {
		out.Parts = append(out.Parts, uistream.DataPart(uistream.DataThematicOptions, map[string]any{
			"options": options,
		}))
	}

	orderID := done.ResolvedOrderID()
	bundleID := done.ResolvedBundleID()
	if bundleID == "" {
		bundleID = in.RequestBundleID
	}
	if ctas := done.CTAs(); len(ctas) > 0 {
		if options == nil {
			options = []json.RawMessage{}
		}
		out.Parts = append(out.Parts, uistream.DataPart(uistream.DataEngagement, map[string]any{
			"ctas":    injectContext(ctas, orderID, bundleID),
			"options": options,
		}))
	}

	if orderID != "" {
		out.Parts = append(out.Parts, uistream.DataPart(uistream.DataPaymentForm, map[string]any{
			"order_id": orderID,
		}))
	}

	if in.Thread != nil && in.Thread.Created {
		out.Title = DeriveThreadTitle(done, in.InputText)
	}
	if part, ok := threadMetadata(in.Thread, out.Title); ok {
		out.Parts = append(out.Parts, part)
	}
	return out
}

// injectContext copies each CTA, adding order_id to payment CTAs and
// bundle_id to bundle CTAs when those ids are known.
func injectContext(ctas []CTA, orderID, bundleID string) []CTA {
	out := make([]CTA, 0, len(ctas))
	for _, c := range ctas {
		cp := make(CTA, len(c)+1)
		for k, v := range c {
			cp[k] = v
		}
		switch c.Action() {
		case actionProceedToPayment:
			if orderID != "" {
				cp["order_id"] = orderID
			}
		case actionViewBundle:
			if bundleID != "" {
				cp["bundle_id"] = bundleID
			}
		}
		out = append(out, cp)
	}
	return out
}

func threadMetadata(thread *ThreadRef, title string) (uistream.Part, bool) {
	if thread == nil || thread.ID == "" {
		return uistream.Part{}, false
	}
	data := map[string]any{"thread_id": thread.ID}
	if thread.Created && title != "" {
		data["title"] = title
	}
	return uistream.DataPart(uistream.DataThreadMetadata, data), true
}
