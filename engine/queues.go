package engine

import (
	"fmt"
	"strings"
)

// Queues names the two disjoint task queues of one execution domain. The
// orchestrator queue is polled only by decision-code workers (workflows plus
// the system activities that ride with them); the runner queue is polled only
// by the execution worker pool. Components refer to each other exclusively by
// these names, never by address, which is what lets the pools be scaled,
// deployed and restarted independently.
//
// Queue names are a versioned contract between producer and consumer:
// renaming one is a breaking change requiring coordinated rollout.
type Queues struct {
	// Domain names the execution domain, e.g. "agent-execution".
	Domain string

	// Orchestrator is the queue decision-code workers poll.
	Orchestrator string

	// Runner is the queue execution workers poll.
	Runner string
}

// ForDomain derives the conventional queue pair for a domain:
// "<domain>.orchestrator" and "<domain>.runner".
func ForDomain(domain string) Queues {
	return Queues{
		Domain:       domain,
		Orchestrator: domain + ".orchestrator",
		Runner:       domain + ".runner",
	}
}

// Validate checks the queue pair for configuration errors. Registering
// orchestration and execution handlers on the same queue creates task routing
// collisions, so identical names are rejected here, fatally, at startup.
func (q Queues) Validate() error {
	if strings.TrimSpace(q.Domain) == "" {
		return fmt.Errorf("baton engine: queue domain is required")
	}
	if strings.TrimSpace(q.Orchestrator) == "" {
		return fmt.Errorf("baton engine: domain %q: orchestrator queue name is required", q.Domain)
	}
	if strings.TrimSpace(q.Runner) == "" {
		return fmt.Errorf("baton engine: domain %q: runner queue name is required", q.Domain)
	}
	if q.Orchestrator == q.Runner {
		return fmt.Errorf("baton engine: domain %q: orchestrator and runner queues must be disjoint, both are %q", q.Domain, q.Runner)
	}
	return nil
}
