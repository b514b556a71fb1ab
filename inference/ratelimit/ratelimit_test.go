package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelmesh/gateway/inference"
)

func TestNew_DefaultsAndClamping(t *testing.T) {
	l := New(0, 0)
	require.Equal(t, 60000.0, l.currentTPM)
	require.Equal(t, 60000.0, l.maxTPM)

	l = New(1000, 100) // maxTPM below initialTPM clamps to initialTPM
	require.Equal(t, 1000.0, l.currentTPM)
	require.Equal(t, 1000.0, l.maxTPM)
}

func TestObserve_BackoffHalvesBudget(t *testing.T) {
	l := New(1000, 1000)
	rateLimited := inference.NewProviderCallError("p", "infer", 429, inference.ErrorKindInferenceServer, true, "", "", nil)
	l.Observe(rateLimited)
	require.InDelta(t, 500, l.currentTPM, 0.001)
}

func TestObserve_SuccessProbesTowardCeiling(t *testing.T) {
	l := New(1000, 1000)
	rateLimited := inference.NewProviderCallError("p", "infer", 429, inference.ErrorKindInferenceServer, true, "", "", nil)
	l.Observe(rateLimited) // drop to 500
	require.InDelta(t, 500, l.currentTPM, 0.001)
	l.Observe(nil) // probe: +5% of initial (50) toward ceiling
	require.Greater(t, l.currentTPM, 500.0)
	require.LessOrEqual(t, l.currentTPM, 1000.0)
}

func TestObserve_BudgetNeverDropsBelowFloor(t *testing.T) {
	l := New(100, 100)
	rateLimited := inference.NewProviderCallError("p", "infer", 429, inference.ErrorKindInferenceServer, true, "", "", nil)
	for i := 0; i < 10; i++ {
		l.Observe(rateLimited)
	}
	require.GreaterOrEqual(t, l.currentTPM, l.minTPM)
}

func TestWait_AllowsImmediateCallWithinBudget(t *testing.T) {
	l := New(600000, 600000) // generous budget, a single small request should never block
	req := &inference.Request{Messages: []inference.Message{{Role: inference.RoleUser, Content: []inference.ContentBlock{inference.TextBlock{Text: "hi"}}}}}
	err := l.Wait(context.Background(), req)
	require.NoError(t, err)
}
