package director

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// provider describes one test provider; keys are relative to the usual prefixes
type provider map[string]string

func catalog(providers map[string]provider) *MemoryConfig {
	src := NewMemoryConfig()
	for name, kv := range providers {
		src.Set(name, KeyExecutable, "/usr/bin/"+name)
		for k, v := range kv {
			src.Set(name, k, v)
		}
	}
	return src
}

func resolve(t *testing.T, providers map[string]provider) (*Graph, []Diagnostic) {
	t.Helper()
	runlevels, diags := NewRunlevelTable(map[string]string{
		RunlevelsPrefix + "multiuser": "2",
	})
	require.Empty(t, diags)
	return Resolve(catalog(providers), runlevels)
}

func problems(diags []Diagnostic) map[string][]Problem {
	out := make(map[string][]Problem)
	for _, d := range diags {
		out[d.Context] = append(out[d.Context], d.Problem)
	}
	return out
}

const (
	startOn = RequirementsPrefix + FieldStartOnRunLevels
	stopOn  = RequirementsPrefix + FieldStopOnRunLevels
)

func TestResolveServiceDependency(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"A": {KeyProvidedServices: "svc.a", startOn: "1", stopOn: "1"},
		"B": {RequirementsPrefix + FieldActiveServices: "svc.a", startOn: "1", stopOn: "1"},
	})
	require.Empty(t, diags)

	o := g.Order(1)
	assert.Equal(t, []string{"A", "B"}, o.Start)
	assert.Equal(t, []string{"B", "A"}, o.Stop)

	assert.Equal(t, []Action{
		{Start: false, Provider: "B"},
		{Start: false, Provider: "A"},
		{Start: true, Provider: "A"},
		{Start: true, Provider: "B"},
	}, g.Actions(1))

	assert.Equal(t, []string{"A", "B"}, g.Providers())

	owner, ok := g.ServiceProvider("svc.a")
	assert.True(t, ok)
	assert.Equal(t, "A", owner)

	start, stop, ok := g.Depth("B")
	assert.True(t, ok)
	assert.Equal(t, 2, start)
	assert.Equal(t, 1, stop)
}

func TestResolveCircular(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"A": {RequirementsPrefix + FieldActiveProviders: "B", startOn: "1"},
		"B": {RequirementsPrefix + FieldActiveProviders: "A", startOn: "1"},
		// optional references into the cycle still resolve
		"C": {EnhancementsPrefix + FieldActiveProviders: "A", startOn: "1"},
	})

	got := problems(diags)
	assert.Contains(t, got["A"], ProblemCircular)
	assert.Contains(t, got["B"], ProblemCircular)
	assert.Empty(t, got["C"])

	for _, d := range diags {
		if d.Problem == ProblemCircular {
			assert.Equal(t, RequirementsPrefix+FieldActiveProviders, d.Field)
		}
	}

	assert.Equal(t, []Action{{Start: true, Provider: "C"}}, g.Actions(1))
	for _, rl := range g.Runlevels() {
		for _, a := range g.Actions(rl) {
			assert.NotEqual(t, "A", a.Provider)
			assert.NotEqual(t, "B", a.Provider)
		}
	}

	_, _, ok := g.Depth("A")
	assert.False(t, ok)
	start, _, ok := g.Depth("C")
	assert.True(t, ok)
	assert.Equal(t, 1, start)
}

func TestResolveSelfDependency(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"A": {RequirementsPrefix + FieldActiveProviders: "A", startOn: "1"},
	})
	assert.Contains(t, problems(diags)["A"], ProblemCircular)
	assert.Empty(t, g.Actions(1))
}

func TestResolveOptionalCycle(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"A": {EnhancementsPrefix + FieldActiveProviders: "B", startOn: "1"},
		"B": {EnhancementsPrefix + FieldActiveProviders: "A", startOn: "1"},
	})
	require.Empty(t, diags)
	assert.Equal(t, []string{"A", "B"}, g.Order(1).Start)
}

func TestResolveRequiredPathThroughOptionalCycle(t *testing.T) {
	// A and B form a cycle only through an optional edge; the required edge keeps its ordering
	g, diags := resolve(t, map[string]provider{
		"A": {RequirementsPrefix + FieldActiveProviders: "B", startOn: "1"},
		"B": {EnhancementsPrefix + FieldActiveProviders: "A", startOn: "1"},
	})
	require.Empty(t, diags)
	assert.Equal(t, []string{"B", "A"}, g.Order(1).Start)
}

func TestResolveUnresolvedReferences(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"A": {RequirementsPrefix + FieldActiveServices: "nowhere", startOn: "1"},
		"B": {EnhancementsPrefix + FieldActiveProviders: "ghost", startOn: "1"},
		"C": {RequirementsPrefix + FieldActiveProviders: "A", startOn: "1"},
	})

	got := problems(diags)
	assert.Equal(t, []Problem{ProblemUnresolvedService, ProblemUnmetRequirement}, got["A"])
	assert.Equal(t, []Problem{ProblemUnresolvedProvider}, got["B"])
	assert.Equal(t, []Problem{ProblemUnmetRequirement}, got["C"], "requirement failures propagate")

	for _, d := range diags {
		if d.Problem == ProblemUnmetRequirement {
			assert.Equal(t, startOn, d.Field)
		}
	}

	// a missing optional dependency does not prevent ordering
	assert.Equal(t, []string{"B"}, g.Order(1).Start)
}

func TestResolveOptionalSubtreeWithUnmetRequirement(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"A": {EnhancementsPrefix + FieldActiveProviders: "B", startOn: "1"},
		"B": {RequirementsPrefix + FieldActiveServices: "missing"},
	})
	assert.Equal(t, []Problem{ProblemUnresolvedService}, problems(diags)["B"])
	assert.Equal(t, []string{"A"}, g.Order(1).Start)
}

func TestResolvePullsInDependencies(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"base":  {KeyProvidedServices: "base"},
		"extra": {KeyProvidedServices: "extra"},
		"app": {
			RequirementsPrefix + FieldActiveServices: "base",
			EnhancementsPrefix + FieldActiveServices: "extra",
			startOn: "multiuser",
		},
	})
	require.Empty(t, diags)
	assert.Equal(t, []string{"base", "extra", "app"}, g.Order(2).Start)
	assert.Empty(t, g.Order(1).Start)
}

func TestResolveInactiveDependency(t *testing.T) {
	// getty must be gone before rescue starts
	g, diags := resolve(t, map[string]provider{
		"getty":  {stopOn: "1"},
		"rescue": {RequirementsPrefix + FieldInactiveProviders: "getty", startOn: "1", stopOn: "1"},
	})
	require.Empty(t, diags)

	gettyStart, gettyStop, ok := g.Depth("getty")
	require.True(t, ok)
	rescueStart, rescueStop, ok := g.Depth("rescue")
	require.True(t, ok)
	assert.Equal(t, 1, gettyStart)
	assert.Equal(t, 1, rescueStart)
	assert.Equal(t, 2, gettyStop)
	assert.Equal(t, 1, rescueStop)

	assert.Equal(t, []string{"getty", "rescue"}, g.Order(1).Stop)
	assert.Equal(t, []string{"rescue"}, g.Order(1).Start)
}

func TestResolveStopTiesBreakOnStartDepth(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"a": {stopOn: "halt"},
		"b": {stopOn: "halt"},
		"c": {RequirementsPrefix + FieldActiveProviders: "a", stopOn: "halt"},
	})
	require.Empty(t, diags)
	assert.Equal(t, []string{"c", "b", "a"}, g.Order(RunlevelHalt).Stop)
	assert.Equal(t, []Runlevel{RunlevelHalt}, g.Runlevels())
}

func TestResolveUnknownRunlevel(t *testing.T) {
	g, diags := resolve(t, map[string]provider{
		"A": {startOn: "1, nonsense, 1"},
	})
	require.Len(t, diags, 1)
	assert.Equal(t, ProblemUnresolvedAlias, diags[0].Problem)
	assert.Equal(t, startOn, diags[0].Field)
	assert.Equal(t, []string{"A"}, g.Order(1).Start)
}

func TestResolveSkipsSettings(t *testing.T) {
	src := catalog(map[string]provider{"A": {startOn: "1"}})
	src.Set(SettingsName, KeyInitialRunlevel, "1")
	runlevels, _ := NewRunlevelTable(nil)

	g, _ := Resolve(src, runlevels)
	assert.Equal(t, []string{"A"}, g.Providers())
	assert.False(t, g.Has(SettingsName))
}

func TestResolveIsDeterministic(t *testing.T) {
	providers := map[string]provider{
		"A": {KeyProvidedServices: "a", startOn: "1,2", stopOn: "halt"},
		"B": {RequirementsPrefix + FieldActiveServices: "a", startOn: "2", stopOn: "halt"},
		"C": {RequirementsPrefix + FieldActiveProviders: "D", startOn: "2"},
		"D": {RequirementsPrefix + FieldActiveProviders: "C"},
		"E": {EnhancementsPrefix + FieldActiveServices: "zzz", startOn: "2"},
	}
	g1, d1 := resolve(t, providers)
	g2, d2 := resolve(t, providers)

	assert.Equal(t, d1, d2)
	assert.Equal(t, g1.Runlevels(), g2.Runlevels())
	for _, rl := range g1.Runlevels() {
		assert.Equal(t, g1.Actions(rl), g2.Actions(rl), "run level %s", rl)
	}
}

// Every provider starts after each of its active dependencies in a random acyclic catalog
func TestResolveTopologicalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 20; round++ {
		const n = 30
		providers := make(map[string]provider, n)
		deps := make(map[string][]string, n)
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("p%02d", i)
			p := provider{startOn: "3"}
			var required, optional []string
			for j := 0; j < i; j++ {
				switch rng.Intn(8) {
				case 0:
					required = append(required, fmt.Sprintf("p%02d", j))
				case 1:
					optional = append(optional, fmt.Sprintf("p%02d", j))
				}
			}
			if len(required) > 0 {
				p[RequirementsPrefix+FieldActiveProviders] = strings.Join(required, ", ")
			}
			if len(optional) > 0 {
				p[EnhancementsPrefix+FieldActiveProviders] = strings.Join(optional, ", ")
			}
			providers[name] = p
			deps[name] = append(required, optional...)
		}

		g, diags := resolve(t, providers)
		require.Empty(t, diags)

		position := make(map[string]int)
		for i, name := range g.Order(3).Start {
			position[name] = i
		}
		require.Len(t, position, n)
		for name, ds := range deps {
			for _, d := range ds {
				assert.Less(t, position[d], position[name], "%s before %s", d, name)
			}
		}
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , b ,, a,c\t", []string{"a", "b", "c"}},
		{"x\x00y, z", []string{"xy", "z"}},
		{" , ", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseList(tt.in), "ParseList(%q)", tt.in)
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "start web", Action{Start: true, Provider: "web"}.String())
	assert.Equal(t, "stop web", Action{Provider: "web"}.String())
}
