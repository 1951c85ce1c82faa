package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/protocol"
)

// NodeOutput is what one node produced during a run.
type NodeOutput struct {
	NodeID  string  `json:"node_id"`
	Agent   string  `json:"agent"`
	Text    string  `json:"text"`
	Verdict Verdict `json:"verdict"`
	Failed  bool    `json:"failed"`
	Error   string  `json:"error,omitempty"`
}

// OK reports whether the node completed without failing or vetoing.
func (o NodeOutput) OK() bool {
	return !o.Failed && o.Verdict != VerdictVeto
}

// Label is the "[agent]" header used when feeding output to other nodes.
func (o NodeOutput) Label() string {
	return "[" + o.Agent + "]:\n" + o.Text
}

// Run is the state of one topology execution. Patterns drive it.
type Run struct {
	Topology *models.TopologyDefinition
	Request  Request

	executor protocol.AgentExecutor
	sessions protocol.SessionLog
	logger   *slog.Logger
}

// Task returns the request task with any prior phase context appended.
func (r *Run) Task() string {
	if len(r.Request.Context) == 0 {
		return r.Request.Task
	}

	return r.Request.Task + "\n\n[Previous phases]:\n" + strings.Join(r.Request.Context, "\n")
}

// Agent returns the agent bound to a node, defaulting to the node id.
func (r *Run) Agent(nodeID string) string {
	if n := r.Topology.Node(nodeID); n != nil && n.Agent != "" {
		return n.Agent
	}

	return nodeID
}

// Step describes one node invocation.
type Step struct {
	NodeID  string
	Prompt  string
	Context string
	To      string
}

// Execute runs a single node. Transient, fatal and cancellation errors are
// returned for the caller to propagate; any other agent failure marks the
// output as failed.
func (r *Run) Execute(ctx context.Context, step Step) (NodeOutput, error) {
	out := NodeOutput{NodeID: step.NodeID, Agent: r.Agent(step.NodeID)}

	role := ""
	if n := r.Topology.Node(step.NodeID); n != nil {
		role = n.Role
	}

	execCtx := protocol.ExecContext{
		SessionID: r.Request.SessionID,
		MissionID: r.Request.MissionID,
		PhaseID:   r.Request.PhaseID,
		ProjectID: r.Request.ProjectID,
		Workspace: r.Request.Workspace,
		NodeID:    step.NodeID,
		Role:      role,
	}

	prompt := buildPrompt(step.Prompt, step.Context, role)

	r.logger.DebugContext(ctx, "executing node", "node_id", step.NodeID, "agent", out.Agent)

	text, err := r.stream(ctx, out.Agent, execCtx, prompt)
	if err != nil {
		if propagates(ctx, err) {
			return out, err
		}

		out.Failed = true
		out.Error = err.Error()
		out.Text = text

		r.logger.WarnContext(ctx, "node failed", "node_id", step.NodeID, "agent", out.Agent, "error", err)
		r.post(ctx, out.Agent, step.To, models.MessageError, err.Error())

		return out, nil
	}

	out.Text = text
	out.Verdict = DetectVerdict(text)

	msgType := models.MessageText
	switch out.Verdict {
	case VerdictApprove:
		msgType = models.MessageApprove
	case VerdictVeto:
		msgType = models.MessageVeto
	}

	r.post(ctx, out.Agent, step.To, msgType, text)

	return out, nil
}

func (r *Run) stream(ctx context.Context, agent string, execCtx protocol.ExecContext, prompt string) (string, error) {
	events, err := r.executor.Run(ctx, agent, execCtx, prompt)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	for {
		select {
		case <-ctx.Done():
			return buf.String(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return buf.String(), err
				}

				return buf.String(), nil
			}

			switch ev.Kind {
			case protocol.AgentEventDelta:
				buf.WriteString(ev.Text)
			case protocol.AgentEventToolCall:
				r.logger.DebugContext(ctx, "agent tool call", "agent", agent, "tool", ev.Name)
			case protocol.AgentEventResult:
				text := ev.Text
				if text == "" {
					text = buf.String()
				}

				if ev.Error != nil {
					return text, ev.Error
				}

				return text, nil
			}
		}
	}
}

// propagates reports whether an execution error aborts the whole run instead
// of failing a single node.
func propagates(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return protocol.IsTransient(err) || protocol.IsFatal(err)
}

// post appends to the session log. Failures are logged, never fatal.
func (r *Run) post(ctx context.Context, from, to string, msgType models.MessageType, content string) {
	if r.sessions == nil {
		return
	}

	msg := models.Message{
		SessionID: r.Request.SessionID,
		From:      from,
		To:        to,
		Type:      msgType,
		Content:   content,
		PhaseID:   r.Request.PhaseID,
		Metadata:  map[string]any{"topology": string(r.Topology.Type)},
		Timestamp: time.Now().UTC(),
	}

	if err := r.sessions.Append(ctx, r.Request.SessionID, msg); err != nil {
		r.logger.WarnContext(ctx, "failed to append session message", "session_id", r.Request.SessionID, "error", err)
	}
}

// System posts an orchestrator message to the session.
func (r *Run) System(ctx context.Context, content string) {
	r.post(ctx, models.Orchestrator, "all", models.MessageSystem, content)
}

func buildPrompt(task, context, role string) string {
	var b strings.Builder

	if role != "" {
		fmt.Fprintf(&b, "[Your role: %s]\n\n", role)
	}

	b.WriteString(task)

	if context != "" {
		b.WriteString("\n\n[Context from previous agents]:\n")
		b.WriteString(context)
	}

	return b.String()
}
