package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/medmigrate/medmigrate/internal/config"
	"github.com/medmigrate/medmigrate/internal/domain/patient"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"connectivity", &patient.ConnectivityError{Timeout: time.Minute}, exitConnectivity},
		{"verification", &patient.VerificationError{Collection: "patients", Count: 2, Min: 5}, exitVerification},
		{"batch", &patient.BatchError{Err: errors.New("chunk failed")}, exitBatch},
		{"wrapped connectivity", fmt.Errorf("wait: %w", &patient.ConnectivityError{Timeout: time.Second}), exitConnectivity},
		{"row", &patient.RowError{Line: 3, Field: "name", Reason: "missing"}, exitGeneric},
		{"plain", errors.New("boom"), exitGeneric},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("%s: exitCode = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestServiceOptions(t *testing.T) {
	cfg := &config.Config{
		CollectionName: "patients",
		BatchSize:      500,
		Workers:        8,
		MaxRetries:     2,
		RetryBackoff:   time.Second,
		RateLimit:      250,
		FailFast:       true,
		WaitTimeout:    30 * time.Second,
		WaitInterval:   time.Second,
	}

	opts := serviceOptions(cfg)
	if opts.Collection != "patients" || opts.BatchSize != 500 || opts.Workers != 8 {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.MaxRetries != 2 || opts.RetryBackoff != time.Second {
		t.Errorf("unexpected retry options: %+v", opts)
	}
	if !opts.FailFast || opts.RateLimit != 250 {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.ReadyTimeout != 30*time.Second || opts.ReadyInterval != time.Second {
		t.Errorf("unexpected readiness options: %+v", opts)
	}
	if opts.VerifyMin != 0 {
		t.Errorf("expected verification disabled by default, got %d", opts.VerifyMin)
	}
}
