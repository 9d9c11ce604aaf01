package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindNone, KindForStatus(http.StatusOK))
	assert.Equal(t, KindBadRequest, KindForStatus(http.StatusBadRequest))
	assert.Equal(t, KindUnauthorized, KindForStatus(http.StatusUnauthorized))
	assert.Equal(t, KindForbidden, KindForStatus(http.StatusForbidden))
	assert.Equal(t, KindBadRequest, KindForStatus(http.StatusConflict))
	assert.Equal(t, KindServer, KindForStatus(http.StatusBadGateway))
}

func TestAPIErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("fetch appointments: %w", &APIError{Kind: KindForbidden, Status: 403})

	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.Equal(t, "Forbidden (status 403)", errors.Unwrap(err).Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindRenewalFailed, KindOf(fmt.Errorf("renew: %w", ErrRenewalFailed)))
	assert.Equal(t, KindRenewalFailed, KindOf(fmt.Errorf("%w: %w", ErrRenewalFailed, &APIError{Kind: KindUnauthorized})))
	assert.Equal(t, KindDecode, KindOf(fmt.Errorf("x: %w", ErrDecode)))
	assert.Equal(t, KindNetwork, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindNone, KindOf(errors.New("other")))
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StoreError{Operation: "save", Tier: "durable", Cause: cause}

	assert.Equal(t, "save credentials in durable tier: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, KindStorage, KindOf(fmt.Errorf("cannot establish session: %w", err)))
}
