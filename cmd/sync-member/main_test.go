package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Eldsal/eldsal-sub000/internal/app"
	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncerStub struct {
	synced   []string
	allCalls int
	report   *app.SyncReport
}

func (s *syncerStub) SyncMember(ctx context.Context, memberID string) (app.SyncResult, error) {
	s.synced = append(s.synced, memberID)
	return app.SyncResult{
		MemberID: memberID,
		Updated:  map[domain.Flavour]bool{domain.FlavourMembership: true},
		Payments: map[domain.Flavour]domain.PaymentProperty{
			domain.FlavourMembership: {Flavour: domain.FlavourMembership, Paid: true, PeriodEnd: "2025-12-31", Method: "stripe"},
		},
	}, nil
}

func (s *syncerStub) SyncAll(ctx context.Context) (*app.SyncReport, error) {
	s.allCalls++
	return s.report, nil
}

func TestSyncOnePrintsEachFlavour(t *testing.T) {
	stub := &syncerStub{}
	var out bytes.Buffer

	require.NoError(t, syncOne(context.Background(), stub, &out, " auth0|1 "))
	assert.Equal(t, []string{"auth0|1"}, stub.synced)
	assert.Contains(t, out.String(), "membership updated   paid=true period_end=2025-12-31 method=stripe")
	assert.Contains(t, out.String(), "housecard  unchanged paid=false period_end=- method=-")
}

func TestSyncOneRequiresID(t *testing.T) {
	stub := &syncerStub{}
	err := syncOne(context.Background(), stub, &bytes.Buffer{}, "  ")
	assert.Error(t, err)
	assert.Empty(t, stub.synced)
}

func TestSyncAllAsksForConfirmation(t *testing.T) {
	stub := &syncerStub{report: &app.SyncReport{Members: 2}}

	err := syncAll(context.Background(), stub, strings.NewReader("no\n"), &bytes.Buffer{}, false)
	assert.ErrorIs(t, err, errCancelled)
	assert.Zero(t, stub.allCalls)

	var out bytes.Buffer
	require.NoError(t, syncAll(context.Background(), stub, strings.NewReader("yes\n"), &out, false))
	assert.Equal(t, 1, stub.allCalls)
	assert.Contains(t, out.String(), `"members": 2`)
}

func TestSyncAllReportsFailures(t *testing.T) {
	stub := &syncerStub{report: &app.SyncReport{
		Members:  3,
		Failures: []app.SyncFailure{{MemberID: "auth0|2", Error: "payment processor: timeout"}},
	}}

	err := syncAll(context.Background(), stub, nil, &bytes.Buffer{}, true)
	require.Error(t, err)
	assert.Equal(t, "1 of 3 members failed", err.Error())
}
