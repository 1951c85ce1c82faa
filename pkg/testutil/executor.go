package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/sortie/pkg/protocol"
)

// Reply is one scripted agent answer.
type Reply struct {
	Text     string
	Err      *protocol.AgentError
	RunErr   error
	Delay    time.Duration
	NoResult bool
}

// Call records one executor invocation.
type Call struct {
	Participant string
	Prompt      string
	ExecContext protocol.ExecContext
}

// ScriptedExecutor is an AgentExecutor replaying canned replies per
// participant. The last scripted reply of a participant repeats.
type ScriptedExecutor struct {
	mu        sync.Mutex
	scripts   map[string][]Reply
	respond   func(participant, prompt string) Reply
	calls     []Call
	active    int
	maxActive int
}

func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{scripts: make(map[string][]Reply)}
}

// Script queues replies for participant.
func (e *ScriptedExecutor) Script(participant string, replies ...Reply) *ScriptedExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scripts[participant] = append(e.scripts[participant], replies...)

	return e
}

// Respond sets the fallback used for participants without a script.
func (e *ScriptedExecutor) Respond(fn func(participant, prompt string) Reply) *ScriptedExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.respond = fn

	return e
}

func (e *ScriptedExecutor) Run(ctx context.Context, participant string, execCtx protocol.ExecContext, prompt string) (<-chan protocol.AgentEvent, error) {
	reply := e.next(participant, prompt)

	e.mu.Lock()
	e.calls = append(e.calls, Call{Participant: participant, Prompt: prompt, ExecContext: execCtx})
	e.mu.Unlock()

	if reply.RunErr != nil {
		return nil, reply.RunErr
	}

	events := make(chan protocol.AgentEvent)

	go func() {
		defer close(events)

		e.enter()
		defer e.leave()

		if reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-ctx.Done():
				return
			}
		}

		half := len(reply.Text) / 2
		for _, chunk := range []string{reply.Text[:half], reply.Text[half:]} {
			select {
			case events <- protocol.AgentEvent{Kind: protocol.AgentEventDelta, Text: chunk}:
			case <-ctx.Done():
				return
			}
		}

		if reply.NoResult {
			return
		}

		select {
		case events <- protocol.AgentEvent{Kind: protocol.AgentEventResult, Text: reply.Text, Error: reply.Err}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}

func (e *ScriptedExecutor) next(participant, prompt string) Reply {
	e.mu.Lock()
	defer e.mu.Unlock()

	queue := e.scripts[participant]

	switch {
	case len(queue) > 1:
		e.scripts[participant] = queue[1:]

		return queue[0]
	case len(queue) == 1:
		return queue[0]
	case e.respond != nil:
		return e.respond(participant, prompt)
	default:
		return Reply{Text: participant + " done"}
	}
}

func (e *ScriptedExecutor) enter() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active++
	e.maxActive = max(e.maxActive, e.active)
}

func (e *ScriptedExecutor) leave() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active--
}

// Calls returns a copy of all recorded invocations.
func (e *ScriptedExecutor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]Call(nil), e.calls...)
}

// CallsFor counts the invocations of participant.
func (e *ScriptedExecutor) CallsFor(participant string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0

	for _, c := range e.calls {
		if c.Participant == participant {
			n++
		}
	}

	return n
}

// MaxConcurrent is the highest number of agent turns observed in flight.
func (e *ScriptedExecutor) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.maxActive
}
