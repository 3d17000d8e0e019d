package ir

import "fmt"

// Cost is the modeled cost of a plan rooted at some node.
//
// Latencies accumulate bottom-up. Memory is the size in bytes of the node's
// own output and is not accumulated; caches report the size they hold.
type Cost struct {
	AvgLatency   float64 `json:"avg_latency"`
	UpperLatency float64 `json:"upper_latency"`
	Memory       float64 `json:"memory"`
}

// Statistics describes the rows a node produces.
type Statistics struct {
	AvgCard   float64
	UpperCard float64
	NCols     int
}

// CostEntry is a memoized (cost, statistics) pair.
type CostEntry struct {
	Cost  Cost
	Stats Statistics
}

func costSlot(switchOn bool) int {
	if switchOn {
		return 1
	}
	return 0
}

// CachedCost returns the memoized cost of p for the given evaluation mode.
func CachedCost(p Plan, switchOn bool) (CostEntry, bool) {
	e := p.base().m.cost[costSlot(switchOn)]
	if e == nil {
		return CostEntry{}, false
	}
	return *e, true
}

// StoreCost memoizes the cost of p for the given evaluation mode.
func StoreCost(p Plan, switchOn bool, e CostEntry) {
	p.base().m.cost[costSlot(switchOn)] = &e
}

// Memory is a pair of server and client byte budgets or usages.
type Memory struct {
	Server float64 `json:"server" yaml:"server"`
	Client float64 `json:"client" yaml:"client"`
}

// Add returns the component-wise sum.
func (m Memory) Add(o Memory) Memory {
	return Memory{Server: m.Server + o.Server, Client: m.Client + o.Client}
}

// Fits reports whether m fits within budget on both sides.
func (m Memory) Fits(budget Memory) bool {
	return m.Server <= budget.Server && m.Client <= budget.Client
}

func (m Memory) String() string {
	return fmt.Sprintf("MEM[S(%g)C(%g)]", m.Server, m.Client)
}

// Latency is an interaction's latency budget: the steady-state bound and the
// one-time switch-on bound.
type Latency struct {
	Latency  float64 `json:"latency" yaml:"latency"`
	SwitchOn float64 `json:"switch_on" yaml:"switch_on"`
}

// Interaction is a named user action that drives a set of choice ids.
type Interaction struct {
	Name      string
	ChoiceIDs []string
	Latency   Latency
}

// Drives reports whether the interaction drives choice id.
func (i Interaction) Drives(id string) bool {
	for _, c := range i.ChoiceIDs {
		if c == id {
			return true
		}
	}
	return false
}

// View is a named dashboard view and its logical plan.
type View struct {
	Name string
	Plan Plan
}

// Task is a complete optimization problem: the views of a dashboard, the
// interactions over them and the memory budget.
type Task struct {
	Views        []View
	Interactions []Interaction
	Memory       Memory
}

// Validate checks the structural requirements of a task.
func (t *Task) Validate() error {
	if len(t.Views) == 0 {
		return fmt.Errorf("task has no views")
	}
	seen := map[string]bool{}
	for _, v := range t.Views {
		if v.Plan == nil {
			return fmt.Errorf("view %q has no plan", v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate view %q", v.Name)
		}
		seen[v.Name] = true
	}
	names := map[string]bool{}
	for _, in := range t.Interactions {
		if names[in.Name] {
			return fmt.Errorf("duplicate interaction %q", in.Name)
		}
		names[in.Name] = true
		if in.Latency.Latency < 0 || in.Latency.SwitchOn < 0 {
			return fmt.Errorf("interaction %q has a negative latency budget", in.Name)
		}
	}
	if t.Memory.Server < 0 || t.Memory.Client < 0 {
		return fmt.Errorf("negative memory budget %s", t.Memory)
	}
	return nil
}
