package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndRender_SubstitutesFields(t *testing.T) {
	r, err := Compile("greet", "Hello, {{.Name}}!")
	require.NoError(t, err)
	out, err := r.Render(struct{ Name string }{Name: "ada"})
	require.NoError(t, err)
	require.Equal(t, "Hello, ada!", out)
}

func TestRender_MissingFieldIsAnError(t *testing.T) {
	r, err := Compile("greet", "Hello, {{.Missing}}!")
	require.NoError(t, err)
	_, err = r.Render(map[string]any{"Name": "ada"})
	require.Error(t, err)
}

func TestSlots_RenderSlot_NilSlotPassesRawThrough(t *testing.T) {
	var s Slots
	out, err := s.RenderSlot(nil, nil, "raw text")
	require.NoError(t, err)
	require.Equal(t, "raw text", out)
}

func TestSlots_RenderSlot_CompiledSlotRenders(t *testing.T) {
	r, err := Compile("system", "You are {{.Persona}}.")
	require.NoError(t, err)
	var s Slots
	out, err := s.RenderSlot(r, map[string]any{"Persona": "a pirate"}, "unused")
	require.NoError(t, err)
	require.Equal(t, "You are a pirate.", out)
}

func TestBestOfNSystem_RendersCandidateCount(t *testing.T) {
	out, err := BestOfNSystem.Render(BestOfNSystemData{NumCandidates: 3})
	require.NoError(t, err)
	require.Contains(t, out, "3 candidate answers")
}

func TestBestOfNCandidates_ListsEachCandidate(t *testing.T) {
	out, err := BestOfNCandidates.Render(CandidatesData{Candidates: []string{"foo", "bar"}})
	require.NoError(t, err)
	require.Contains(t, out, "Candidate 0:")
	require.Contains(t, out, "foo")
	require.Contains(t, out, "Candidate 1:")
	require.Contains(t, out, "bar")
}

func TestMixtureOfNSystem_Renders(t *testing.T) {
	out, err := MixtureOfNSystem.Render(nil)
	require.NoError(t, err)
	require.Contains(t, out, "synthesize")
}

func TestMixtureOfNCandidates_ListsEachCandidate(t *testing.T) {
	out, err := MixtureOfNCandidates.Render(CandidatesData{Candidates: []string{"x"}})
	require.NoError(t, err)
	require.Contains(t, out, "Candidate 0:")
	require.Contains(t, out, "x")
}
