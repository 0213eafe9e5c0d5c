package metrics

import "sync/atomic"

// Counters are process-local and reset on restart.
type Counters struct {
	auditFailures        atomic.Int64
	shareLinkRedemptions atomic.Int64
	shareLinkRejections  atomic.Int64
	generationCalls      atomic.Int64
	generationErrors     atomic.Int64
	rateLimited          atomic.Int64
}

func New() *Counters {
	return &Counters{}
}

func (c *Counters) AuditFailure()      { c.auditFailures.Add(1) }
func (c *Counters) ShareLinkRedeemed() { c.shareLinkRedemptions.Add(1) }
func (c *Counters) ShareLinkRejected() { c.shareLinkRejections.Add(1) }
func (c *Counters) GenerationCall()    { c.generationCalls.Add(1) }
func (c *Counters) GenerationError()   { c.generationErrors.Add(1) }
func (c *Counters) RateLimited()       { c.rateLimited.Add(1) }

type Snapshot struct {
	AuditFailures        int64 `json:"audit_failures"`
	ShareLinkRedemptions int64 `json:"share_link_redemptions"`
	ShareLinkRejections  int64 `json:"share_link_rejections"`
	GenerationCalls      int64 `json:"generation_calls"`
	GenerationErrors     int64 `json:"generation_errors"`
	RateLimited          int64 `json:"rate_limited"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		AuditFailures:        c.auditFailures.Load(),
		ShareLinkRedemptions: c.shareLinkRedemptions.Load(),
		ShareLinkRejections:  c.shareLinkRejections.Load(),
		GenerationCalls:      c.generationCalls.Load(),
		GenerationErrors:     c.generationErrors.Load(),
		RateLimited:          c.rateLimited.Load(),
	}
}
