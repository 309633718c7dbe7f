package triggers

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/events"
)

// Describe renders a CRM event as a sentence for the evaluator. Pipeline,
// stage, user and lead names are looked up concurrently; a failed lookup
// falls back to the numeric id.
func Describe(ctx context.Context, api crm.API, ev *events.Event) string {
	var (
		lead     crm.Lead
		pipeline crm.Pipeline
		user     crm.User
	)

	g, gctx := errgroup.WithContext(ctx)
	if ev.LeadID != 0 {
		g.Go(func() error {
			if l, err := api.GetLead(gctx, ev.LeadID); err == nil {
				lead = l
			}
			return nil
		})
	}
	if ev.PipelineID != 0 {
		g.Go(func() error {
			if p, err := api.GetPipeline(gctx, ev.PipelineID); err == nil {
				pipeline = p
			}
			return nil
		})
	}
	if ev.ActorID != 0 {
		g.Go(func() error {
			if u, err := api.GetUser(gctx, ev.ActorID); err == nil {
				user = u
			}
			return nil
		})
	}
	_ = g.Wait()

	leadName := fmt.Sprintf("#%d", ev.LeadID)
	if lead.Name != "" {
		leadName = fmt.Sprintf("%q (#%d)", lead.Name, ev.LeadID)
	}
	stageName := func(id int64) string {
		if name := pipeline.StageName(id); name != "" {
			return fmt.Sprintf("%q", name)
		}
		return fmt.Sprintf("#%d", id)
	}
	pipelineName := fmt.Sprintf("#%d", ev.PipelineID)
	if pipeline.Name != "" {
		pipelineName = fmt.Sprintf("%q", pipeline.Name)
	}

	var b strings.Builder
	switch ev.Type {
	case events.TypeLeadAdded:
		fmt.Fprintf(&b, "Lead %s was created in pipeline %s at stage %s.", leadName, pipelineName, stageName(ev.StageID))
	case events.TypeLeadStatusChanged:
		if ev.OldStageID != 0 {
			fmt.Fprintf(&b, "Lead %s moved from stage %s to stage %s in pipeline %s.", leadName, stageName(ev.OldStageID), stageName(ev.StageID), pipelineName)
		} else {
			fmt.Fprintf(&b, "Lead %s moved to stage %s in pipeline %s.", leadName, stageName(ev.StageID), pipelineName)
		}
	case events.TypeLeadUpdated:
		fmt.Fprintf(&b, "Lead %s was updated.", leadName)
	case events.TypeContactAdded:
		fmt.Fprintf(&b, "Contact #%d was created.", ev.ContactID)
	case events.TypeContactUpdated:
		fmt.Fprintf(&b, "Contact #%d was updated.", ev.ContactID)
	case events.TypeTaskAdded, events.TypeTaskUpdated:
		verb := "created"
		if ev.Type == events.TypeTaskUpdated {
			verb = "updated"
		}
		fmt.Fprintf(&b, "A task was %s for lead %s", verb, leadName)
		if ev.MessageText != "" {
			fmt.Fprintf(&b, ": %q", ev.MessageText)
		}
		b.WriteString(".")
	case events.TypeTalkCreated:
		fmt.Fprintf(&b, "A conversation was opened on channel %s.", channelOrUnknown(ev.Channel))
	case events.TypeTalkUpdated:
		fmt.Fprintf(&b, "A conversation on channel %s changed state.", channelOrUnknown(ev.Channel))
	case events.TypeIncomingEmail:
		fmt.Fprintf(&b, "An email arrived for lead %s with subject %q: %s", leadName, ev.Subject, ev.MessageText)
	default:
		fmt.Fprintf(&b, "Event %s for lead %s.", ev.Type, leadName)
	}

	switch ev.Actor {
	case events.ActorEmployee:
		if user.Name != "" {
			fmt.Fprintf(&b, " Done by employee %q.", user.Name)
		} else {
			fmt.Fprintf(&b, " Done by employee #%d.", ev.ActorID)
		}
	case events.ActorSystem:
		b.WriteString(" Done automatically by the system.")
	}
	return b.String()
}

func channelOrUnknown(channel string) string {
	if channel == "" {
		return "unknown"
	}
	return channel
}
