package topology

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/sortie/pkg/models"
)

const defaultHierarchyIterations = 3

var subtaskLine = regexp.MustCompile(`(?mi)^\s*\[SUBTASK\s*(\d+)\]\s*:?\s*(.+)$`)

// ParseNumberedSubtasks reads "[SUBTASK n]: text" lines keyed by n.
func ParseNumberedSubtasks(text string) map[int]string {
	subtasks := make(map[int]string)

	for _, m := range subtaskLine.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		subtasks[n] = strings.TrimSpace(m[2])
	}

	return subtasks
}

// hierarchical: a manager decomposes, workers execute concurrently and
// reviewers may send the work back with a veto, up to max_iterations times.
func hierarchical(ctx context.Context, r *Run) (Result, error) {
	ordered := OrderedNodes(r.Topology)
	manager := firstOf(withRole(r.Topology, "manager", "lead"), sourceOf(r.Topology, models.EdgeDelegation), ordered[0])

	workers := targets(edgesFrom(r.Topology, manager, models.EdgeDelegation))
	if len(workers) == 0 {
		workers = without(ordered, manager)
	}

	reviewers := without(ordered, append([]string{manager}, workers...)...)
	iterations := r.Topology.IntConfig("max_iterations", defaultHierarchyIterations)

	var (
		last     []NodeOutput
		feedback string
	)

	for iteration := 1; iteration <= iterations; iteration++ {
		prompt := r.Task() + fmt.Sprintf("\n\nAssign one subtask per worker as lines \"[SUBTASK n]: ...\" (n = 1..%d).", len(workers))
		if feedback != "" {
			prompt += "\n\n[Review feedback to address]:\n" + feedback
		}

		lead, err := r.Execute(ctx, Step{NodeID: manager, Prompt: prompt, To: "all"})
		if err != nil {
			return Result{}, err
		}

		subtasks := ParseNumberedSubtasks(lead.Text)

		steps := make([]Step, 0, len(workers))
		for i, w := range workers {
			task, ok := subtasks[i+1]
			if !ok {
				task = r.Task()
			}

			steps = append(steps, Step{NodeID: w, Prompt: task, Context: lead.Label(), To: r.Agent(manager)})
		}

		results, err := r.FanOut(ctx, steps)
		if err != nil {
			return Result{}, err
		}

		last = append([]NodeOutput{lead}, results...)

		reviews, err := r.chain(ctx, reviewers, "Review the team's work for:\n"+r.Task(), labels(results))
		if err != nil {
			return Result{}, err
		}

		last = append(last, reviews...)

		feedback = vetoFeedback(reviews)
		if feedback == "" {
			break
		}

		r.System(ctx, fmt.Sprintf("Review iteration %d/%d vetoed, sending back to %s", iteration, iterations, r.Agent(manager)))
	}

	return conclude(last), nil
}

func vetoFeedback(reviews []NodeOutput) string {
	var parts []string

	for _, rv := range reviews {
		if rv.Verdict == VerdictVeto {
			parts = append(parts, rv.Label())
		}
	}

	return strings.Join(parts, "\n\n")
}
