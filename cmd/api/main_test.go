package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinicflow/appointment-service/pkg/logging"
)

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	logger := logging.New("error")
	pool := connectPostgresPool(context.Background(), "", logger)
	assert.Nil(t, pool, "an empty DATABASE_URL must not attempt a connection")
}
