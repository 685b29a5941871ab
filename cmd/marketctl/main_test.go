package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsm/market-engine/internal/catalog"
	"github.com/fsm/market-engine/internal/config"
	"github.com/fsm/market-engine/internal/engine"
	"github.com/fsm/market-engine/internal/store"
)

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(store.NewMemoryStore(), engine.DefaultParams())
	require.NoError(t, err)
	acct, err := eng.CreateAccount(ctx, "ops")
	require.NoError(t, err)
	sec, err := eng.CreateSecurity(ctx, catalog.Listing{
		Name: "Lamar Jackson", Position: "QB", ProjectedPoints: decimal.NewFromInt(100), K: decimal.RequireFromString("0.002"),
	}, true)
	require.NoError(t, err)
	_, err = eng.Buy(ctx, acct.ID, sec.ID, decimal.NewFromInt(3))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, dispatch(ctx, eng, []string{"securities"}, &out))
	assert.Contains(t, out.String(), "Lamar Jackson")
	assert.Contains(t, out.String(), "1 securities")

	out.Reset()
	require.NoError(t, dispatch(ctx, eng, []string{"portfolio", acct.ID}, &out))
	assert.Contains(t, out.String(), sec.ID)

	out.Reset()
	require.NoError(t, dispatch(ctx, eng, []string{"enforce-margin", acct.ID}, &out))
	assert.Contains(t, out.String(), "outcome: Compliant")

	out.Reset()
	require.NoError(t, dispatch(ctx, eng, []string{"close-season", "2025"}, &out))
	require.NoError(t, dispatch(ctx, eng, []string{"close-season", "2025"}, &out))
	assert.Contains(t, out.String(), "season 2025 already closed")

	out.Reset()
	require.NoError(t, dispatch(ctx, eng, []string{"reset-season", "2025"}, &out))
	assert.NotContains(t, out.String(), "already reset")
}

func TestDispatchUsageErrors(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(store.NewMemoryStore(), engine.DefaultParams())
	require.NoError(t, err)

	var out bytes.Buffer
	for _, args := range [][]string{
		{"portfolio"},
		{"close-season", "next"},
		{"launch"},
	} {
		assert.ErrorIs(t, dispatch(ctx, eng, args, &out), errUsage, "%v", args)
	}

	err = dispatch(ctx, eng, []string{"portfolio", "nobody"}, &out)
	assert.Equal(t, engine.CodeNotFound, engine.CodeOf(err))
}

func TestRunRequiresDatabase(t *testing.T) {
	err := run(context.Background(), &config.Config{}, []string{"securities"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "database_url")

	err = run(context.Background(), &config.Config{}, nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, errUsage)
}
