package carrier

import (
	"context"
	"fmt"
	"sync"

	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/adapter"
)

var _ adapter.CarrierClient = (*NoopCarrier)(nil)

// NoopCarrier is an in-memory carrier for dev mode and tests. Ids are
// sequential so runs are reproducible.
type NoopCarrier struct {
	mu      sync.Mutex
	nextSub int64
	nextPkg int64
	subs    map[int64]*model.Subscriber
}

func NewNoopCarrier() *NoopCarrier {
	return &NoopCarrier{
		nextSub: 1000,
		nextPkg: 5000,
		subs:    make(map[int64]*model.Subscriber),
	}
}

// Seed registers an existing subscriber.
func (c *NoopCarrier) Seed(s model.Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := s
	c.subs[s.ID] = &cp
}

func (c *NoopCarrier) GetSubscriber(ctx context.Context, hints model.SubscriberHints) (*model.Subscriber, error) {
	if hints.IsEmpty() {
		return nil, domain.ErrInvalidArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.lookup(hints)
	if s == nil {
		return nil, domain.ErrSubscriberNotFound
	}
	cp := *s
	return &cp, nil
}

func (c *NoopCarrier) AllocateAndProvision(ctx context.Context, packageTemplateID string, hints model.SubscriberHints, cfg model.PackageConfig) (*model.ProvisionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCarrierTimeout, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var s *model.Subscriber
	if hints.IsEmpty() {
		s = c.allocate()
	} else if s = c.lookup(hints); s == nil {
		return nil, domain.ErrSubscriberNotFound
	}
	return c.result(s), nil
}

func (c *NoopCarrier) TopUp(ctx context.Context, subscriberID int64, packageTemplateID string, cfg model.PackageConfig) (*model.ProvisionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCarrierTimeout, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[subscriberID]
	if !ok {
		return nil, domain.ErrSubscriberNotFound
	}
	if s.IsTerminated() {
		return nil, fmt.Errorf("%w: subscriber %d is terminated", domain.ErrProvisioningFailure, subscriberID)
	}
	return c.result(s), nil
}

func (c *NoopCarrier) Ping(ctx context.Context) error { return ctx.Err() }

func (c *NoopCarrier) lookup(h model.SubscriberHints) *model.Subscriber {
	if h.SubscriberID != nil {
		return c.subs[*h.SubscriberID]
	}
	for _, s := range c.subs {
		if (h.IMSI != "" && s.IMSI == h.IMSI) ||
			(h.ICCID != "" && s.ICCID == h.ICCID) ||
			(h.MSISDN != "" && s.MSISDN == h.MSISDN) ||
			(h.ActivationCode != "" && s.ActivationCode == h.ActivationCode) {
			return s
		}
	}
	return nil
}

func (c *NoopCarrier) allocate() *model.Subscriber {
	c.nextSub++
	id := c.nextSub
	s := &model.Subscriber{
		ID:             id,
		IMSI:           fmt.Sprintf("00101%010d", id),
		ICCID:          fmt.Sprintf("8900000%012d", id),
		MSISDN:         fmt.Sprintf("1555%07d", id),
		ActivationCode: fmt.Sprintf("NOOP-%d", id),
		Status:         model.SubscriberStatusActive,
		EsimID:         id,
		SmdpServer:     "smdp.noop.local",
	}
	c.subs[id] = s
	return s
}

func (c *NoopCarrier) result(s *model.Subscriber) *model.ProvisionResult {
	c.nextPkg++
	return &model.ProvisionResult{
		SubscriberID:   s.ID,
		SubsPackageID:  c.nextPkg,
		EsimID:         s.EsimID,
		IMSI:           s.IMSI,
		ICCID:          s.ICCID,
		MSISDN:         s.MSISDN,
		SmdpServer:     s.SmdpServer,
		ActivationCode: s.ActivationCode,
		URLQrCode:      LPAString(s.SmdpServer, s.ActivationCode),
	}
}
