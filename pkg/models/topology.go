package models

// TopologyType names one of the supported coordination shapes.
type TopologyType string

const (
	TopologySolo            TopologyType = "solo"
	TopologySequential      TopologyType = "sequential"
	TopologyParallel        TopologyType = "parallel"
	TopologyLoop            TopologyType = "loop"
	TopologyRouter          TopologyType = "router"
	TopologyAggregator      TopologyType = "aggregator"
	TopologyHierarchical    TopologyType = "hierarchical"
	TopologyNetwork         TopologyType = "network"
	TopologyDebate          TopologyType = "debate"
	TopologyHumanInTheLoop  TopologyType = "human-in-the-loop"
	TopologyWave            TopologyType = "wave"
	TopologyMapReduce       TopologyType = "map-reduce"
	TopologyBlackboard      TopologyType = "blackboard"
	TopologySupervisorRetry TopologyType = "supervisor-retry"
	TopologySwarm           TopologyType = "swarm"
	TopologySaga            TopologyType = "saga"
	TopologyConsensus       TopologyType = "consensus"
	TopologyPubSub          TopologyType = "pub-sub"
)

// Canonical resolves aliases to the type used for dispatch.
func (t TopologyType) Canonical() TopologyType {
	if t == TopologyDebate {
		return TopologyNetwork
	}

	return t
}

// EdgeType classifies how two nodes of a topology relate.
type EdgeType string

const (
	EdgeSequential  EdgeType = "sequential"
	EdgeParallel    EdgeType = "parallel"
	EdgeDelegation  EdgeType = "delegation"
	EdgeReport      EdgeType = "report"
	EdgeConditional EdgeType = "conditional"
	EdgeAggregate   EdgeType = "aggregate"
	EdgeVote        EdgeType = "vote"
	EdgePublish     EdgeType = "publish"
	EdgeRoute       EdgeType = "route"
)

// TopologyDefinition describes the nodes and edges of a coordination shape.
type TopologyDefinition struct {
	ID          string         `json:"id"                    validate:"required"              yaml:"id"`
	Name        string         `json:"name"                  validate:"required"              yaml:"name"`
	Type        TopologyType   `json:"type"                  validate:"required"              yaml:"type"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Nodes       []*Node        `json:"nodes"                 validate:"required,min=1,dive,required" yaml:"nodes"`
	Edges       []*Edge        `json:"edges,omitempty"       validate:"dive,required"         yaml:"edges"`
	Config      map[string]any `json:"config,omitempty"      yaml:"config"`
}

// Node is a logical slot of a topology bound to a worker agent.
type Node struct {
	ID    string `json:"id"             validate:"required" yaml:"id"`
	Agent string `json:"agent"          yaml:"agent"`
	Role  string `json:"role,omitempty" yaml:"role"`
}

// Edge connects two nodes. Condition is an optional tag used by router and pub-sub edges.
type Edge struct {
	From      string   `json:"from"                validate:"required" yaml:"from"`
	To        string   `json:"to"                  validate:"required" yaml:"to"`
	Type      EdgeType `json:"type"                validate:"required" yaml:"type"`
	Condition string   `json:"condition,omitempty" yaml:"condition"`
}

// Node returns the node with the given id, or nil.
func (t *TopologyDefinition) Node(id string) *Node {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// Clone returns a deep copy suitable for binding participants.
func (t *TopologyDefinition) Clone() *TopologyDefinition {
	clone := *t

	clone.Nodes = make([]*Node, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		node := *n
		clone.Nodes = append(clone.Nodes, &node)
	}

	clone.Edges = make([]*Edge, 0, len(t.Edges))
	for _, e := range t.Edges {
		edge := *e
		clone.Edges = append(clone.Edges, &edge)
	}

	if t.Config != nil {
		clone.Config = make(map[string]any, len(t.Config))
		for k, v := range t.Config {
			clone.Config[k] = v
		}
	}

	return &clone
}

// IntConfig reads an integer option from Config, falling back to def.
func (t *TopologyDefinition) IntConfig(key string, def int) int {
	raw, ok := t.Config[key]
	if !ok {
		return def
	}

	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// StringConfig reads a string option from Config, falling back to def.
func (t *TopologyDefinition) StringConfig(key, def string) string {
	if v, ok := t.Config[key].(string); ok && v != "" {
		return v
	}

	return def
}
