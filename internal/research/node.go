package research

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/state"
)

// FindingsSaver persists findings outside the task state. *plan.Manager
// implements it.
type FindingsSaver interface {
	SaveFindings(ctx context.Context, f plan.Findings) error
}

// Node runs the research loop as one node of the outer graph.
type Node struct {
	controller *Controller
	saver      FindingsSaver
}

// NewNode wraps a controller. saver may be nil.
func NewNode(c *Controller, saver FindingsSaver) *Node {
	return &Node{controller: c, saver: saver}
}

// Run researches the action payload (or the goal when it is empty) and
// reports the result as the action output.
func (n *Node) Run(ctx context.Context, s state.TaskState) (state.Update, error) {
	topic := s.ActionDetails
	if topic == "" {
		topic = s.Goal()
	}
	out, err := n.controller.Run(ctx, topic)
	if err != nil {
		return state.Update{}, err
	}

	if n.saver != nil && len(out.Findings) > 0 {
		if err := n.saver.SaveFindings(ctx, toPlanFindings(topic, out.Findings)); err != nil {
			n.controller.logger.Warn("failed to save research findings", map[string]interface{}{"error": err.Error()})
		}
	}

	summary := fmt.Sprintf("[DEEP RESEARCH] %s: %d cycles, %d sources", topic, out.Depth, len(out.Findings))
	return state.Update{
		CurrentAction:       state.Ptr(state.ActionNone),
		LastOutput:          state.Ptr(out.Report),
		FinalReport:         state.Ptr(out.Report),
		ActionsSinceRefresh: state.Ptr(s.ActionsSinceRefresh + 1),
		ActionsSinceSave:    state.Ptr(s.ActionsSinceSave + 1),
		Messages: []state.Message{
			{Role: state.RoleTool, Content: summary + "\n\n" + out.Report},
		},
	}, nil
}

func toPlanFindings(topic string, findings []Finding) plan.Findings {
	f := plan.Findings{Timestamp: time.Now(), Query: topic}
	for _, x := range findings {
		f.Discoveries = append(f.Discoveries, x.Content)
		f.Sources = append(f.Sources, x.SourceTitle)
		f.Links = append(f.Links, x.SourceURL)
	}
	return f
}
