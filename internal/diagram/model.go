package diagram

// NodeKind classifies a diagram node by how its step runs.
type NodeKind string

const (
	NodeKindStatic  NodeKind = "static"
	NodeKindDynamic NodeKind = "dynamic"
	NodeKindGated   NodeKind = "gated" // static step whose tool needs approval
	NodeKindStart   NodeKind = "start"
	NodeKindEnd     NodeKind = "end"
)

// DiagramModel is the intermediate representation used by the renderer.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the recorded outcome of a step.
type StatusOverlay struct {
	Status   string // completed, failed, skipped or suspended
	Attempts int
	Error    string
}

// Edge is a possible transfer of control between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
