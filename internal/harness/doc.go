// Package harness runs optimizer scenarios described in YAML.
//
// A scenario names a CUE task directory and a statistics source, optionally
// overrides the task's budgets, runs the optimizer and checks the outcome
// against a list of assertions.
//
// # Scenario Format
//
//	name: prefix_sum
//	description: "A brushed range view is answered from a prefix sum"
//	task: ../tasks/range
//	stats: ../stats/fixture.yaml
//	options:
//	  arbitrary: false
//	  selectivity: upper
//	overrides:
//	  memory: {server: 1e6, client: 1e6}
//	  latency:
//	    brush: {latency: 0, switch_on: 0}
//	assertions:
//	  - type: status
//	    status: satisfiable
//	  - type: plan_contains
//	    key: brush/range/{}
//	    operator: PrefixSumBuild
//
// Task and statistics paths are relative to the scenario file.
//
// # Assertion Types
//
//   - status: the result status equals status
//   - plan_count: exactly count plans were chosen
//   - plan_keys: the chosen plans are exactly keys, in search order
//   - plan_contains: the plan for key (every plan if key is empty) contains
//     a node of kind operator
//   - shared_cache: at least count cache signatures are used by more than
//     one plan, and no signature is listed twice
//   - memory_ratio: the reported memory ratio lies in [min, max]
//   - candidates: the search kept exactly count candidates in total
//
// # Deterministic Testing
//
// Runs use a fixed run id and a step clock, so two runs of one scenario
// produce identical results. RunWithGolden compares a snapshot of the
// outcome against testdata/golden/{name}.golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/prefix_sum.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
