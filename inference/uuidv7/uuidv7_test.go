package uuidv7

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestNew_ProducesV7(t *testing.T) {
	id, err := New()
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), id.Version())
}

func TestNew_Monotonic(t *testing.T) {
	a := MustNew()
	b := MustNew()
	require.True(t, After(b, a), "b should not be generated before a")
}

func TestValidateFreshness_RejectsFuture(t *testing.T) {
	// A freshly generated id embeds roughly "now"; checking it against a
	// "now" an hour in the past makes the id look like it's from the future.
	fresh := MustNew()
	err := ValidateFreshness(fresh, time.Now().Add(-time.Hour), time.Minute)
	require.Error(t, err)
}

func TestValidateFreshness_RejectsStale(t *testing.T) {
	id := MustNew()
	err := ValidateFreshness(id, time.Now().Add(time.Hour), time.Minute)
	require.Error(t, err)
}

func TestValidateFreshness_AcceptsFresh(t *testing.T) {
	id := MustNew()
	err := ValidateFreshness(id, time.Now(), time.Minute)
	require.NoError(t, err)
}

func TestValidateFreshness_RejectsNonV7(t *testing.T) {
	id := uuid.New() // v4
	err := ValidateFreshness(id, time.Now(), time.Minute)
	require.Error(t, err)
}

// TestProperty_SequentiallyGeneratedIDsAreNonDecreasing verifies that for
// any run length, a sequence of consecutively generated UUIDv7s is ordered
// by embedded timestamp, the invariant the dispatcher relies on when
// comparing inference_id against its owning episode_id.
func TestProperty_SequentiallyGeneratedIDsAreNonDecreasing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a run of N generated ids is non-decreasing", prop.ForAll(
		func(n int) bool {
			ids := make([]uuid.UUID, n)
			for i := range ids {
				ids[i] = MustNew()
			}
			for i := 1; i < len(ids); i++ {
				if !After(ids[i], ids[i-1]) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
