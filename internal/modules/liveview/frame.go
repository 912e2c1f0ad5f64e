// README: Frames emitted by live view projections to their sinks.
package liveview

import (
	"roadhelper/internal/modules/riderequest"
	"roadhelper/internal/types"
)

type FrameType string

const (
	FrameState    FrameType = "state"
	FrameNavigate FrameType = "navigate"
	FrameNotice   FrameType = "notice"
)

// Frame is one render of a projection. State frames carry either Request (and
// Step) or Requests; navigate frames carry RequestID; notice frames carry Message.
type Frame struct {
	Type      FrameType                  `json:"type"`
	Request   *riderequest.RideRequest   `json:"request,omitempty"`
	Step      *int                       `json:"step,omitempty"`
	Requests  []*riderequest.RideRequest `json:"requests,omitempty"`
	RequestID types.ID                   `json:"requestId,omitempty"`
	Message   string                     `json:"message,omitempty"`
}

// Sink receives frames. Render is called while the projection holds its lock,
// so it must not call back into the projection.
type Sink interface {
	Render(f Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame)

func (f SinkFunc) Render(fr Frame) { f(fr) }

const (
	noticeUnavailable = "This request is no longer available"
	noticeNotFound    = "Request not found"
)

func stateList(rs []*riderequest.RideRequest) Frame {
	if rs == nil {
		rs = []*riderequest.RideRequest{}
	}
	return Frame{Type: FrameState, Requests: rs}
}

func notice(msg string) Frame { return Frame{Type: FrameNotice, Message: msg} }

func navigate(id types.ID) Frame { return Frame{Type: FrameNavigate, RequestID: id} }
