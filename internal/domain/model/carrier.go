package model

import (
	"strings"
	"time"
)

// SubscriberHints identify an existing carrier subscriber. Any one field is
// enough for the carrier to resolve it.
type SubscriberHints struct {
	SubscriberID   *int64
	IMSI           string
	ICCID          string
	MSISDN         string
	ActivationCode string
}

func (h SubscriberHints) IsEmpty() bool {
	return h.SubscriberID == nil &&
		strings.TrimSpace(h.IMSI) == "" &&
		strings.TrimSpace(h.ICCID) == "" &&
		strings.TrimSpace(h.MSISDN) == "" &&
		strings.TrimSpace(h.ActivationCode) == ""
}

// PackageConfig overrides package template defaults on the carrier side.
type PackageConfig struct {
	ValidityPeriod       *int
	ActivePeriodStart    *time.Time
	ActivePeriodEnd      *time.Time
	StartTimeUTC         *time.Time
	ActivationAtFirstUse bool
}

type SubscriberStatus string

const (
	SubscriberStatusActive     SubscriberStatus = "ACTIVE"
	SubscriberStatusSuspended  SubscriberStatus = "SUSPENDED"
	SubscriberStatusTerminated SubscriberStatus = "TERMINATED"
)

// Subscriber is the carrier's view of a SIM identity.
type Subscriber struct {
	ID             int64
	IMSI           string
	ICCID          string
	MSISDN         string
	ActivationCode string
	Status         SubscriberStatus
	EsimID         int64
	SmdpServer     string
}

func (s *Subscriber) IsTerminated() bool {
	return s.Status == SubscriberStatusTerminated
}

// ProvisionResult is what the carrier reports after assigning a package.
type ProvisionResult struct {
	SubscriberID   int64
	SubsPackageID  int64
	EsimID         int64
	IMSI           string
	ICCID          string
	MSISDN         string
	SmdpServer     string
	ActivationCode string
	URLQrCode      string
	UserSimName    string
}

// Complete reports whether every field a COMPLETED order must expose is present.
func (r *ProvisionResult) Complete() bool {
	return r != nil && r.SubscriberID != 0 && r.SubsPackageID != 0 && r.EsimID != 0 &&
		r.SmdpServer != "" && r.URLQrCode != "" && r.UserSimName != ""
}
