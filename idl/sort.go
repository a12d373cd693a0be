package idl

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports models whose foreign keys form a cycle.
type CycleError struct {
	Models []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("foreign key cycle between models: %s", strings.Join(e.Models, ", "))
}

// SortModels orders the relational models so that every model comes after
// the models its foreign keys reference. Self references are ignored. Ties are
// broken by name so the order is stable.
func SortModels(ast *CloesceAst) ([]string, error) {
	indegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, name := range ast.ModelNames() {
		m := ast.Models[name]
		if !m.IsD1() {
			continue
		}
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		seen := make(map[string]bool)
		for _, col := range m.Columns {
			ref := col.ForeignKey
			if ref == "" || ref == name || seen[ref] {
				continue
			}
			if target, ok := ast.Models[ref]; !ok || !target.IsD1() {
				continue
			}
			seen[ref] = true
			indegree[name]++
			dependents[ref] = append(dependents[ref], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				sort.Strings(ready)
			}
		}
	}

	if len(order) != len(indegree) {
		var cyclic []string
		for name, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, &CycleError{Models: cyclic}
	}
	return order, nil
}
