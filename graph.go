package director

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// DepthUnresolved marks a provider whose depth could not be computed
const DepthUnresolved = -1

type depKind int

const (
	kindStart depKind = iota
	kindStop
	numKinds
)

// reference is one dependency as declared, before resolution
type reference struct {
	target   string
	service  bool
	required bool
	active   bool
	field    string
}

// edge points from a node to the node it depends on for one kind
type edge struct {
	to       int
	required bool
	field    string
}

type node struct {
	name     string
	services []string
	refs     []reference
	edges    [numKinds][]edge
	missing  [numKinds]bool
	startOn  []Runlevel
	stopOn   []Runlevel
}

// Order is the start and stop order of one run level
type Order struct {
	Start []string
	Stop  []string
}

// Action is one entry of an action queue
type Action struct {
	Start    bool
	Provider string
}

// String returns "start <provider>" or "stop <provider>"
func (a Action) String() string {
	if a.Start {
		return "start " + a.Provider
	}
	return "stop " + a.Provider
}

// Graph is the resolved dependency graph of every configured provider.
// It is immutable once returned by Resolve.
type Graph struct {
	nodes    []node
	index    map[string]int
	services map[string]int
	depth    [numKinds][]int
	orders   map[Runlevel]Order
}

// dependency lists in declaration order
var dependencyFields = []struct {
	field   string
	service bool
	active  bool
}{
	{FieldActiveServices, true, true},
	{FieldInactiveServices, true, false},
	{FieldActiveProviders, false, true},
	{FieldInactiveProviders, false, false},
}

// Resolve builds the graph of every provider listed by src and computes the
// start and stop order of each run level. Problems never abort resolution;
// they are returned as diagnostics in a deterministic order.
func Resolve(src ConfigSource, runlevels *RunlevelTable) (*Graph, []Diagnostic) {
	g := &Graph{
		index:    make(map[string]int),
		services: make(map[string]int),
		orders:   make(map[Runlevel]Order),
	}
	var diags []Diagnostic

	for _, name := range src.List() {
		if name == SettingsName {
			continue
		}
		g.index[name] = len(g.nodes)
		g.nodes = append(g.nodes, node{name: name})
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		n.services = ParseList(src.Get(n.name, KeyProvidedServices))
		for _, svc := range n.services {
			if _, taken := g.services[svc]; !taken {
				g.services[svc] = i
			}
		}

		for _, prefix := range []string{RequirementsPrefix, EnhancementsPrefix} {
			for _, f := range dependencyFields {
				key := prefix + f.field
				for _, target := range ParseList(src.Get(n.name, key)) {
					n.refs = append(n.refs, reference{
						target:   target,
						service:  f.service,
						required: prefix == RequirementsPrefix,
						active:   f.active,
						field:    key,
					})
				}
			}
		}

		var d []Diagnostic
		n.startOn, d = parseRunlevels(n.name, RequirementsPrefix+FieldStartOnRunLevels, src, runlevels)
		diags = append(diags, d...)
		n.stopOn, d = parseRunlevels(n.name, RequirementsPrefix+FieldStopOnRunLevels, src, runlevels)
		diags = append(diags, d...)
	}

	diags = append(diags, g.link()...)

	ok, d := g.analyze()
	diags = append(diags, d...)

	diags = append(diags, g.order(ok)...)
	return g, diags
}

// link turns declared references into edges. Inactive edges are installed on
// the referenced node pointing back at the referrer.
func (g *Graph) link() []Diagnostic {
	var diags []Diagnostic
	for i := range g.nodes {
		n := &g.nodes[i]
		for _, ref := range n.refs {
			target, found := -1, false
			if ref.service {
				target, found = g.services[ref.target]
			} else {
				target, found = g.index[ref.target]
			}

			kind := kindStart
			if !ref.active {
				kind = kindStop
			}

			if !found {
				problem := ProblemUnresolvedProvider
				if ref.service {
					problem = ProblemUnresolvedService
				}
				diags = append(diags, Diagnostic{
					Context: n.name,
					Field:   ref.field,
					Problem: problem,
					Detail:  fmt.Sprintf("%q is not available", ref.target),
				})
				if ref.required {
					n.missing[kind] = true
				}
				continue
			}

			if ref.active {
				n.edges[kindStart] = append(n.edges[kindStart], edge{to: target, required: ref.required, field: ref.field})
			} else {
				t := &g.nodes[target]
				t.edges[kindStop] = append(t.edges[kindStop], edge{to: i, required: ref.required, field: ref.field})
			}
		}
	}
	return diags
}

// analyze computes per kind which nodes resolve and their depths.
// It returns whether each node resolved for every kind.
func (g *Graph) analyze() ([]bool, []Diagnostic) {
	n := len(g.nodes)
	var diags []Diagnostic
	var unresolved [numKinds][]bool

	for k := depKind(0); k < numKinds; k++ {
		required := make([][]int, n)
		for i := range g.nodes {
			for _, e := range g.nodes[i].edges[k] {
				if e.required {
					required[i] = append(required[i], e.to)
				}
			}
		}

		bad := make([]bool, n)
		comp, cyclic := components(required)
		for i := range g.nodes {
			if g.nodes[i].missing[k] {
				bad[i] = true
			}
			if !cyclic[comp[i]] {
				continue
			}
			bad[i] = true
			field := ""
			for _, e := range g.nodes[i].edges[k] {
				if e.required && comp[e.to] == comp[i] {
					field = e.field
					break
				}
			}
			diags = append(diags, Diagnostic{
				Context: g.nodes[i].name,
				Field:   field,
				Problem: ProblemCircular,
				Detail:  "provider is part of a mandatory dependency cycle",
			})
		}
		spreadOverRequired(required, bad)
		unresolved[k] = bad

		// required edges plus optional edges that lead somewhere resolvable
		combined := make([][]int, n)
		for i := range g.nodes {
			if bad[i] {
				continue
			}
			for _, e := range g.nodes[i].edges[k] {
				if !bad[e.to] {
					combined[i] = append(combined[i], e.to)
				}
			}
		}
		// optional edges closing a cycle carry no ordering
		comp, cyclic = components(combined)
		for i := range combined {
			if bad[i] || !cyclic[comp[i]] {
				continue
			}
			var kept []int
			for _, e := range g.nodes[i].edges[k] {
				if bad[e.to] {
					continue
				}
				if e.required || comp[e.to] != comp[i] {
					kept = append(kept, e.to)
				}
			}
			combined[i] = kept
		}

		include := make([]bool, n)
		for i := range include {
			include[i] = !bad[i]
		}
		g.depth[k] = longestPaths(combined, include)
	}

	ok := make([]bool, n)
	for i := range ok {
		ok[i] = !unresolved[kindStart][i] && !unresolved[kindStop][i]
	}
	return ok, diags
}

// spreadOverRequired marks every node that transitively requires a marked node
func spreadOverRequired(required [][]int, marked []bool) {
	reverse := make([][]int, len(required))
	for from, tos := range required {
		for _, to := range tos {
			reverse[to] = append(reverse[to], from)
		}
	}
	var work []int
	for i, m := range marked {
		if m {
			work = append(work, i)
		}
	}
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		for _, u := range reverse[v] {
			if !marked[u] {
				marked[u] = true
				work = append(work, u)
			}
		}
	}
}

// order fills the per run-level orders. A provider joins a run level together
// with its required dependencies and those optional dependencies whose own
// requirements are met; optional subtrees with unmet requirements are left out.
func (g *Graph) order(ok []bool) []Diagnostic {
	n := len(g.nodes)
	var diags []Diagnostic

	var fine [numKinds][]bool
	for k := depKind(0); k < numKinds; k++ {
		required := make([][]int, n)
		for i := range g.nodes {
			for _, e := range g.nodes[i].edges[k] {
				if e.required {
					required[i] = append(required[i], e.to)
				}
			}
		}
		notOK := make([]bool, n)
		for i := range notOK {
			notOK[i] = !ok[i]
		}
		spreadOverRequired(required, notOK)
		fine[k] = make([]bool, n)
		for i := range notOK {
			fine[k][i] = !notOK[i]
		}
	}

	members := [numKinds]map[Runlevel]map[int]struct{}{
		make(map[Runlevel]map[int]struct{}),
		make(map[Runlevel]map[int]struct{}),
	}
	for i := range g.nodes {
		for k, levels := range [numKinds][]Runlevel{g.nodes[i].startOn, g.nodes[i].stopOn} {
			field := RequirementsPrefix + FieldStartOnRunLevels
			if depKind(k) == kindStop {
				field = RequirementsPrefix + FieldStopOnRunLevels
			}
			for _, rl := range levels {
				if !fine[k][i] {
					diags = append(diags, Diagnostic{
						Context: g.nodes[i].name,
						Field:   field,
						Problem: ProblemUnmetRequirement,
						Detail:  fmt.Sprintf("cannot be ordered on run level %s", rl),
					})
					continue
				}
				set, exists := members[k][rl]
				if !exists {
					set = make(map[int]struct{})
					members[k][rl] = set
				}
				g.collect(depKind(k), i, fine[k], set)
			}
		}
	}

	levels := make(map[Runlevel]struct{})
	for k := range members {
		for rl := range members[k] {
			levels[rl] = struct{}{}
		}
	}
	for rl := range levels {
		var o Order
		start := sortedMembers(members[kindStart][rl])
		sort.Slice(start, func(a, b int) bool {
			return g.lessStart(start[a], start[b])
		})
		for _, i := range start {
			o.Start = append(o.Start, g.nodes[i].name)
		}

		stop := sortedMembers(members[kindStop][rl])
		sort.Slice(stop, func(a, b int) bool {
			return g.lessStop(stop[b], stop[a])
		})
		for _, i := range stop {
			o.Stop = append(o.Stop, g.nodes[i].name)
		}
		g.orders[rl] = o
	}
	return diags
}

func (g *Graph) collect(k depKind, root int, fine []bool, set map[int]struct{}) {
	work := []int{root}
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		if _, seen := set[v]; seen {
			continue
		}
		set[v] = struct{}{}
		for _, e := range g.nodes[v].edges[k] {
			if e.required || fine[e.to] {
				work = append(work, e.to)
			}
		}
	}
}

func sortedMembers(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (g *Graph) lessStart(a, b int) bool {
	da, db := g.depth[kindStart][a], g.depth[kindStart][b]
	if da != db {
		return da < db
	}
	return g.nodes[a].name < g.nodes[b].name
}

// lessStop orders by stop depth, then start depth, then name. Stop order is
// this ordering reversed so dependents go down before what they depend on.
func (g *Graph) lessStop(a, b int) bool {
	sa, sb := g.depth[kindStop][a], g.depth[kindStop][b]
	if sa != sb {
		return sa < sb
	}
	return g.lessStart(a, b)
}

// Order returns the start and stop order of run level rl
func (g *Graph) Order(rl Runlevel) Order {
	o := g.orders[rl]
	return Order{
		Start: append([]string(nil), o.Start...),
		Stop:  append([]string(nil), o.Stop...),
	}
}

// Actions returns the action queue for entering rl: every stop in stop order
// followed by every start in start order
func (g *Graph) Actions(rl Runlevel) []Action {
	o := g.orders[rl]
	actions := make([]Action, 0, len(o.Start)+len(o.Stop))
	for _, name := range o.Stop {
		actions = append(actions, Action{Start: false, Provider: name})
	}
	for _, name := range o.Start {
		actions = append(actions, Action{Start: true, Provider: name})
	}
	return actions
}

// Runlevels returns every run level that has an order, ascending
func (g *Graph) Runlevels() []Runlevel {
	out := make([]Runlevel, 0, len(g.orders))
	for rl := range g.orders {
		out = append(out, rl)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Providers returns every provider name in sorted order
func (g *Graph) Providers() []string {
	out := make([]string, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether name is a configured provider
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Depth returns the start and stop depth of a provider.
// Either is DepthUnresolved when it could not be computed.
func (g *Graph) Depth(name string) (start, stop int, ok bool) {
	i, found := g.index[name]
	if !found {
		return DepthUnresolved, DepthUnresolved, false
	}
	start, stop = g.depth[kindStart][i], g.depth[kindStop][i]
	return start, stop, start != DepthUnresolved && stop != DepthUnresolved
}

// ServiceProvider returns the provider publishing svc
func (g *Graph) ServiceProvider(svc string) (string, bool) {
	i, ok := g.services[svc]
	if !ok {
		return "", false
	}
	return g.nodes[i].name, true
}

// ParseList splits a delimited list value, dropping whitespace and control
// characters, empty entries and repeats
func ParseList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(value, string(ListDelim)) {
		item := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) || !unicode.IsGraphic(r) {
				return -1
			}
			return r
		}, part)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func parseRunlevels(provider, key string, src ConfigSource, runlevels *RunlevelTable) ([]Runlevel, []Diagnostic) {
	var out []Runlevel
	var diags []Diagnostic
	seen := make(map[Runlevel]struct{})
	for _, name := range ParseList(src.Get(provider, key)) {
		rl, ok := runlevels.Resolve(name)
		if !ok {
			diags = append(diags, Diagnostic{
				Context: provider,
				Field:   key,
				Problem: ProblemUnresolvedAlias,
				Detail:  fmt.Sprintf("unknown run level %q", name),
			})
			continue
		}
		if _, dup := seen[rl]; dup {
			continue
		}
		seen[rl] = struct{}{}
		out = append(out, rl)
	}
	return out, diags
}
