// Package dag provides the task graph handed from handlers to the scheduler.
package dag

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jdziat/jobflow/pkg/security"
)

// ErrInvalidGraph is wrapped by every validation failure returned from New.
var ErrInvalidGraph = errors.New("dag: invalid graph")

// Task is a single node of a graph. Kind names the handler that runs it and
// DependsOn lists the ids of tasks that must finish first.
type Task struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty"`
}

// DAG is an immutable, validated task graph.
//
// It is safe for concurrent read access.
type DAG struct {
	tasks      []Task
	index      map[string]int
	dependents [][]int
}

// New builds and validates a DAG.
//
// Validation rejects:
//   - an empty task list
//   - empty or duplicate task ids
//   - task kinds that could not be enqueued (security.ValidateKind)
//   - dependencies on unknown tasks, duplicate dependencies and self-loops
//   - any cycle (direct or indirect)
func New(tasks ...Task) (*DAG, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	g := &DAG{
		tasks:      make([]Task, len(tasks)),
		index:      make(map[string]int, len(tasks)),
		dependents: make([][]int, len(tasks)),
	}

	for i, t := range tasks {
		if t.ID == "" {
			return nil, invalidf("task %d has no id", i)
		}
		if err := security.ValidateKind(t.Kind); err != nil {
			return nil, invalidf("task %q kind %q: %v", t.ID, t.Kind, err)
		}
		if _, exists := g.index[t.ID]; exists {
			return nil, invalidf("duplicate task id %q", t.ID)
		}
		g.index[t.ID] = i
		g.tasks[i] = cloneTask(t)
	}

	for i, t := range g.tasks {
		seen := make(map[string]struct{}, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return nil, invalidf("self-loop on %q", t.ID)
			}
			j, ok := g.index[dep]
			if !ok {
				return nil, invalidf("task %q depends on unknown task %q", t.ID, dep)
			}
			if _, dup := seen[dep]; dup {
				return nil, invalidf("task %q lists dependency %q twice", t.ID, dep)
			}
			seen[dep] = struct{}{}
			g.dependents[j] = append(g.dependents[j], i)
		}
	}

	if _, err := g.order(); err != nil {
		return nil, err
	}
	return g, nil
}

// MustNew is like New but panics on an invalid graph.
func MustNew(tasks ...Task) *DAG {
	g, err := New(tasks...)
	if err != nil {
		panic(err)
	}
	return g
}

// Len returns the number of tasks.
func (g *DAG) Len() int { return len(g.tasks) }

// Tasks returns a copy of the tasks in declaration order.
func (g *DAG) Tasks() []Task {
	out := make([]Task, len(g.tasks))
	for i, t := range g.tasks {
		out[i] = cloneTask(t)
	}
	return out
}

// Task returns a task by id.
func (g *DAG) Task(id string) (Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return Task{}, false
	}
	return cloneTask(g.tasks[i]), true
}

// Roots returns the tasks without dependencies.
func (g *DAG) Roots() []Task {
	return g.Ready(nil)
}

// Ready returns the tasks that are not in done and whose dependencies all are.
// Order follows declaration order.
func (g *DAG) Ready(done map[string]bool) []Task {
	var out []Task
	for _, t := range g.tasks {
		if done[t.ID] {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, cloneTask(t))
		}
	}
	return out
}

// Dependents returns the ids of tasks that directly depend on id.
func (g *DAG) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.dependents[i]))
	for _, j := range g.dependents[i] {
		out = append(out, g.tasks[j].ID)
	}
	return out
}

// Order returns the task ids in a topological order. Ties are broken by
// declaration order, so the result is stable for a given graph.
func (g *DAG) Order() []string {
	ids, _ := g.order()
	return ids
}

func (g *DAG) order() ([]string, error) {
	indeg := make([]int, len(g.tasks))
	for i, t := range g.tasks {
		indeg[i] = len(t.DependsOn)
	}

	ids := make([]string, 0, len(g.tasks))
	emitted := make([]bool, len(g.tasks))
	for len(ids) < len(g.tasks) {
		progressed := false
		for i := range g.tasks {
			if emitted[i] || indeg[i] != 0 {
				continue
			}
			emitted[i] = true
			progressed = true
			ids = append(ids, g.tasks[i].ID)
			for _, j := range g.dependents[i] {
				indeg[j]--
			}
		}
		if !progressed {
			for i := range g.tasks {
				if !emitted[i] {
					return nil, invalidf("cycle through task %q", g.tasks[i].ID)
				}
			}
		}
	}
	return ids, nil
}

// MarshalJSON encodes the graph as its task list.
func (g *DAG) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Tasks []Task `json:"tasks"`
	}{Tasks: g.tasks})
}

// UnmarshalJSON decodes and validates a task list.
func (g *DAG) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tasks []Task `json:"tasks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := New(raw.Tasks...)
	if err != nil {
		return err
	}
	*g = *parsed
	return nil
}

func cloneTask(t Task) Task {
	c := Task{ID: t.ID, Kind: t.Kind}
	if t.Payload != nil {
		c.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			c.Payload[k] = v
		}
	}
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return c
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}
