package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/jonathan/fleet-diagnostics/internal/chat"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// ChatResult is the aggregate of one conversational turn. When the reply
// asks for an appointment and enough context is present, a booking is
// attempted in the same turn.
type ChatResult struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message"`
	ErrorKind    types.ErrorKind     `json:"error_kind"`
	Reply        *types.ChatResponse `json:"reply"`
	Booking      *types.Booking      `json:"booking,omitempty"`
	BookingError *types.StageError   `json:"booking_error,omitempty"`
	Events       []types.Event       `json:"events,omitempty"`
}

// errNoScheduleContext is returned by the chained schedule stage when the
// reply gave no date or the request had no findings or recipient
var errNoScheduleContext = types.NewStageError(types.ErrInputInvalid, "not enough context to schedule", nil)

// Chat answers one message, chaining into scheduling when asked
func (a *Agent) Chat(ctx context.Context, req types.ChatRequest, emit types.EmitFunc) *ChatResult {
	o := pipeline.New(pipeline.Stages{
		types.StageConversational: a.assistant.Stage(req),
		types.StageSchedule:       a.chainedSchedule(req),
	}, emit)

	res := &ChatResult{Success: true}
	v, err := o.RunStage(ctx, types.StageConversational)
	if err != nil {
		serr := types.AsStageError(types.StageConversational, err)
		log.Printf("[agent] chat failed: %v", serr)
		res.Success = false
		res.ErrorKind = serr.Kind
		res.Reply = chat.FallbackReply()
		res.Message = res.Reply.Message
		res.Events = o.Events()
		return res
	}

	res.Reply = v.(*types.ChatResponse)
	res.Message = res.Reply.Message
	if wantsBooking(req, res.Reply) {
		booked, err := o.RunStage(ctx, types.StageSchedule)
		if err != nil {
			res.BookingError = types.AsStageError(types.StageSchedule, err)
		} else {
			res.Booking = booked.(*types.Booking)
			res.Message = fmt.Sprintf("%s %s", res.Message, res.Booking.Message)
		}
	}
	res.Events = o.Events()
	return res
}

func wantsBooking(req types.ChatRequest, reply *types.ChatResponse) bool {
	return reply.Intent == types.IntentScheduleRequest &&
		reply.ExtractedDate != "" &&
		req.UserEmail != "" &&
		len(req.Findings) > 0
}

// chainedSchedule books using the date the conversational stage extracted
func (a *Agent) chainedSchedule(req types.ChatRequest) pipeline.Stage {
	return pipeline.NewStage(types.StageSchedule, func(ctx context.Context, s *pipeline.State, emit types.EmitFunc) pipeline.StageResult[*types.Booking] {
		reply, ok := pipeline.Value[*types.ChatResponse](s, types.StageConversational)
		if !ok || !wantsBooking(req, reply) {
			return pipeline.Fail[*types.Booking](errNoScheduleContext)
		}
		out := a.scheduler.Stage(types.ScheduleRequest{
			PreferredDate: reply.ExtractedDate,
			UserEmail:     req.UserEmail,
			Findings:      req.Findings,
			VIN:           req.VIN,
		}).Run(ctx, s, emit)
		if !out.OK {
			return pipeline.Fail[*types.Booking](out.Err)
		}
		return pipeline.Succeed(out.Value.(*types.Booking), out.Summary)
	})
}
