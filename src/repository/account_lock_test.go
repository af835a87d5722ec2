package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ethaccount/tokenpay/src/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountLock(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	ctx := context.Background()

	lock := NewAccountLock(client, "tokenpay-test:"+uuid.NewString(), time.Minute)
	account := common.HexToAddress("0x47D6a8A65cBa9b61B194daC740AA192A7A1e91e1")

	release, err := lock.Acquire(ctx, account)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, account)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := lock.Acquire(ctx, common.HexToAddress("0xAbc1000000000000000000000000000000000001"))
	require.NoError(t, err)
	defer other(ctx)

	require.NoError(t, release(ctx))

	again, err := lock.Acquire(ctx, account)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestAccountLock_ReleaseAfterTakeover(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	ctx := context.Background()

	lock := NewAccountLock(client, "tokenpay-test:"+uuid.NewString(), 50*time.Millisecond)
	account := common.HexToAddress("0x47D6a8A65cBa9b61B194daC740AA192A7A1e91e1")

	stale, err := lock.Acquire(ctx, account)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	current, err := lock.Acquire(ctx, account)
	require.NoError(t, err)

	// the expired holder must not remove the new lock
	require.NoError(t, stale(ctx))
	_, err = lock.Acquire(ctx, account)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, current(ctx))
}
