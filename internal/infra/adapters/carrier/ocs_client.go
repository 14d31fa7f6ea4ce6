// File: internal/infra/adapters/carrier/ocs_client.go
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"esim-reseller/internal/config"
	"esim-reseller/internal/domain"
	"esim-reseller/internal/domain/model"
	"esim-reseller/internal/domain/ports/adapter"
	"esim-reseller/internal/infra/metrics"
)

var _ adapter.CarrierClient = (*OCSClient)(nil)

const (
	methodGetSubscriber = "getSingleSubscriber"
	methodAffectPackage = "affectPackageToSubscriber"
	methodTopUp         = "topupSubscriberPackage"

	// ocsCodeNotFound is returned when no subscriber matches the lookup.
	ocsCodeNotFound = 4
)

// OCSClient talks to the carrier's online charging system. Every request
// is POST {base}?token=... with a single-key envelope {"<method>": params};
// the response echoes the method key next to a status block.
//
// Calls are never retried: affect and top-up are not idempotent on the
// carrier side.
type OCSClient struct {
	endpoint string
	client   *http.Client
}

func NewOCSClient(cfg config.CarrierConfig) (*OCSClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("carrier base url empty")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid carrier base url: %w", err)
	}
	if cfg.Token != "" {
		q := u.Query()
		q.Set("token", cfg.Token)
		u.RawQuery = q.Encode()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OCSClient{
		endpoint: u.String(),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type ocsStatus struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type ocsSubscriberRef struct {
	SubscriberID   *int64 `json:"subscriberId,omitempty"`
	IMSI           string `json:"imsi,omitempty"`
	ICCID          string `json:"iccid,omitempty"`
	MSISDN         string `json:"msisdn,omitempty"`
	ActivationCode string `json:"activationCode,omitempty"`
}

type ocsPeriod struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type ocsPackageConfig struct {
	ValidityPeriod       *int       `json:"validityPeriod,omitempty"`
	ActivePeriod         *ocsPeriod `json:"activePeriod,omitempty"`
	StartTimeUTC         string     `json:"startTimeUTC,omitempty"`
	ActivationAtFirstUse bool       `json:"activationAtFirstUse,omitempty"`
}

type ocsAffectRequest struct {
	PackageTemplateID  string            `json:"packageTemplateId"`
	Subscriber         *ocsSubscriberRef `json:"subscriber,omitempty"`
	AllocateSubscriber bool              `json:"allocateSubscriber,omitempty"`
	ocsPackageConfig
}

type ocsTopUpRequest struct {
	SubscriberID      int64  `json:"subscriberId"`
	PackageTemplateID string `json:"packageTemplateId"`
	ocsPackageConfig
}

type ocsSubscriber struct {
	SubscriberID   int64  `json:"subscriberId"`
	IMSI           string `json:"imsi"`
	ICCID          string `json:"iccid"`
	MSISDN         string `json:"msisdn"`
	ActivationCode string `json:"activationCode"`
	Status         string `json:"status"`
	EsimID         int64  `json:"esimId"`
	SmdpServer     string `json:"smdpServer"`
	URLQrCode      string `json:"urlQrCode"`
}

type ocsProvisioned struct {
	SubscriberID   int64  `json:"subscriberId"`
	SubsPackageID  int64  `json:"subsPackageId"`
	EsimID         int64  `json:"esimId"`
	IMSI           string `json:"imsi"`
	ICCID          string `json:"iccid"`
	MSISDN         string `json:"msisdn"`
	SmdpServer     string `json:"smdpServer"`
	ActivationCode string `json:"activationCode"`
	URLQrCode      string `json:"urlQrCode"`
}

func (c *OCSClient) GetSubscriber(ctx context.Context, hints model.SubscriberHints) (*model.Subscriber, error) {
	if hints.IsEmpty() {
		return nil, domain.ErrInvalidArgument
	}
	var out ocsSubscriber
	if err := c.call(ctx, methodGetSubscriber, refFromHints(hints), &out); err != nil {
		return nil, err
	}
	if out.SubscriberID == 0 {
		return nil, domain.ErrSubscriberNotFound
	}
	return out.toModel(), nil
}

func (c *OCSClient) AllocateAndProvision(ctx context.Context, packageTemplateID string, hints model.SubscriberHints, cfg model.PackageConfig) (*model.ProvisionResult, error) {
	req := ocsAffectRequest{
		PackageTemplateID: packageTemplateID,
		ocsPackageConfig:  toOCSConfig(cfg),
	}
	var known *model.Subscriber
	if hints.IsEmpty() {
		req.AllocateSubscriber = true
	} else {
		sub, err := c.GetSubscriber(ctx, hints)
		if err != nil {
			return nil, err
		}
		known = sub
		req.Subscriber = &ocsSubscriberRef{SubscriberID: &sub.ID}
	}

	var out ocsProvisioned
	if err := c.call(ctx, methodAffectPackage, req, &out); err != nil {
		return nil, err
	}
	res := out.toModel()
	if known != nil {
		fillFromSubscriber(res, known)
	}
	if res.URLQrCode == "" {
		res.URLQrCode = LPAString(res.SmdpServer, res.ActivationCode)
	}
	return res, nil
}

// TopUp adds a package and then re-reads the subscriber so the result
// carries the eSIM fields the top-up response omits. Once the top-up call
// succeeded a failed re-read returns the partial result together with
// domain.ErrCarrierCommitted: the package is on the subscriber either way.
func (c *OCSClient) TopUp(ctx context.Context, subscriberID int64, packageTemplateID string, cfg model.PackageConfig) (*model.ProvisionResult, error) {
	req := ocsTopUpRequest{
		SubscriberID:      subscriberID,
		PackageTemplateID: packageTemplateID,
		ocsPackageConfig:  toOCSConfig(cfg),
	}
	var out ocsProvisioned
	if err := c.call(ctx, methodTopUp, req, &out); err != nil {
		return nil, err
	}
	res := out.toModel()
	if res.SubscriberID == 0 {
		res.SubscriberID = subscriberID
	}

	id := subscriberID
	sub, err := c.GetSubscriber(ctx, model.SubscriberHints{SubscriberID: &id})
	if err != nil {
		return res, fmt.Errorf("%w: subscriber %d re-read: %v", domain.ErrCarrierCommitted, subscriberID, err)
	}
	fillFromSubscriber(res, sub)
	return res, nil
}

// Ping looks up subscriber 0, which never exists. Any status block in the
// answer proves the endpoint and token work.
func (c *OCSClient) Ping(ctx context.Context) error {
	var zero int64
	var out ocsSubscriber
	err := c.call(ctx, methodGetSubscriber, ocsSubscriberRef{SubscriberID: &zero}, &out)
	if err == nil || errors.Is(err, domain.ErrSubscriberNotFound) {
		return nil
	}
	return err
}

// call posts one envelope. It never retries.
func (c *OCSClient) call(ctx context.Context, method string, params any, out any) (err error) {
	started := time.Now()
	result := "ok"
	defer func() { metrics.ObserveCarrierCall(method, result, started) }()

	body, err := json.Marshal(map[string]any{method: params})
	if err != nil {
		result = "error"
		return fmt.Errorf("%w: encode %s: %v", domain.ErrProvisioningFailure, method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		result = "error"
		return fmt.Errorf("%w: %v", domain.ErrProvisioningFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			result = "timeout"
			return fmt.Errorf("%w: %s", domain.ErrCarrierTimeout, method)
		}
		result = "error"
		return fmt.Errorf("%w: %s: %v", domain.ErrProvisioningFailure, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTimeout(ctx, err) {
			result = "timeout"
			return fmt.Errorf("%w: %s", domain.ErrCarrierTimeout, method)
		}
		result = "error"
		return fmt.Errorf("%w: read %s: %v", domain.ErrProvisioningFailure, method, err)
	}
	if resp.StatusCode != http.StatusOK {
		result = "error"
		return fmt.Errorf("%w: %s: http %d", domain.ErrProvisioningFailure, method, resp.StatusCode)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		result = "error"
		return fmt.Errorf("%w: decode %s: %v", domain.ErrProvisioningFailure, method, err)
	}
	var st ocsStatus
	if s, ok := env["status"]; ok {
		_ = json.Unmarshal(s, &st)
	}
	if st.Code != 0 {
		if method == methodGetSubscriber && (st.Code == ocsCodeNotFound || strings.Contains(strings.ToLower(st.Msg), "not found")) {
			result = "not_found"
			return domain.ErrSubscriberNotFound
		}
		result = "error"
		return fmt.Errorf("%w: %s: code=%d msg=%s", domain.ErrProvisioningFailure, method, st.Code, st.Msg)
	}
	payload, ok := env[method]
	if !ok || string(payload) == "null" {
		if method == methodGetSubscriber {
			result = "not_found"
			return domain.ErrSubscriberNotFound
		}
		result = "error"
		return fmt.Errorf("%w: %s: empty result", domain.ErrProvisioningFailure, method)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		result = "error"
		return fmt.Errorf("%w: decode %s result: %v", domain.ErrProvisioningFailure, method, err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func refFromHints(h model.SubscriberHints) ocsSubscriberRef {
	return ocsSubscriberRef{
		SubscriberID:   h.SubscriberID,
		IMSI:           strings.TrimSpace(h.IMSI),
		ICCID:          strings.TrimSpace(h.ICCID),
		MSISDN:         strings.TrimSpace(h.MSISDN),
		ActivationCode: strings.TrimSpace(h.ActivationCode),
	}
}

func toOCSConfig(cfg model.PackageConfig) ocsPackageConfig {
	out := ocsPackageConfig{
		ValidityPeriod:       cfg.ValidityPeriod,
		ActivationAtFirstUse: cfg.ActivationAtFirstUse,
	}
	if cfg.ActivePeriodStart != nil || cfg.ActivePeriodEnd != nil {
		out.ActivePeriod = &ocsPeriod{Start: formatTime(cfg.ActivePeriodStart), End: formatTime(cfg.ActivePeriodEnd)}
	}
	out.StartTimeUTC = formatTime(cfg.StartTimeUTC)
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *ocsSubscriber) toModel() *model.Subscriber {
	return &model.Subscriber{
		ID:             s.SubscriberID,
		IMSI:           s.IMSI,
		ICCID:          s.ICCID,
		MSISDN:         s.MSISDN,
		ActivationCode: s.ActivationCode,
		Status:         model.SubscriberStatus(strings.ToUpper(s.Status)),
		EsimID:         s.EsimID,
		SmdpServer:     s.SmdpServer,
	}
}

func (p *ocsProvisioned) toModel() *model.ProvisionResult {
	return &model.ProvisionResult{
		SubscriberID:   p.SubscriberID,
		SubsPackageID:  p.SubsPackageID,
		EsimID:         p.EsimID,
		IMSI:           p.IMSI,
		ICCID:          p.ICCID,
		MSISDN:         p.MSISDN,
		SmdpServer:     p.SmdpServer,
		ActivationCode: p.ActivationCode,
		URLQrCode:      p.URLQrCode,
	}
}

// fillFromSubscriber completes res with identity fields the operation
// response left out.
func fillFromSubscriber(res *model.ProvisionResult, sub *model.Subscriber) {
	if res.SubscriberID == 0 {
		res.SubscriberID = sub.ID
	}
	if res.EsimID == 0 {
		res.EsimID = sub.EsimID
	}
	res.IMSI = firstNonEmpty(res.IMSI, sub.IMSI)
	res.ICCID = firstNonEmpty(res.ICCID, sub.ICCID)
	res.MSISDN = firstNonEmpty(res.MSISDN, sub.MSISDN)
	res.SmdpServer = firstNonEmpty(res.SmdpServer, sub.SmdpServer)
	res.ActivationCode = firstNonEmpty(res.ActivationCode, sub.ActivationCode)
	if res.URLQrCode == "" {
		res.URLQrCode = LPAString(res.SmdpServer, res.ActivationCode)
	}
}

// LPAString builds the activation payload encoded in eSIM QR codes.
func LPAString(smdp, matchingID string) string {
	if smdp == "" || matchingID == "" {
		return ""
	}
	return "LPA:1$" + smdp + "$" + matchingID
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
