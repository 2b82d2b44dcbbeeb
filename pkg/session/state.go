package session

import (
	"context"

	"github.com/looplab/fsm"
)

// Lifecycle state of a session.
type State string

const (
	StateIdle               State = "idle"
	StateCaptureConnected   State = "captureconnected"
	StatePipelineConfigured State = "pipelineconfigured"
	StatePipelineRealized   State = "pipelinerealized"
	StateStarted            State = "started"
	StateStopped            State = "stopped"
	StateClosed             State = "closed"
)

const (
	eventConnect    = "connect"
	eventDisconnect = "disconnect"
	eventConfigure  = "configure"
	eventRealize    = "realize"
	eventStart      = "start"
	eventStop       = "stop"
	eventClose      = "close"
)

func newStateMachine(entered func(from, to string)) *fsm.FSM {
	withPipeline := []string{
		string(StatePipelineConfigured),
		string(StatePipelineRealized),
		string(StateStarted),
		string(StateStopped),
	}
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateIdle)}, Dst: string(StateCaptureConnected)},
			{Name: eventDisconnect, Src: append([]string{string(StateCaptureConnected)}, withPipeline...), Dst: string(StateIdle)},
			{Name: eventConfigure, Src: []string{string(StateCaptureConnected)}, Dst: string(StatePipelineConfigured)},
			{Name: eventRealize, Src: []string{string(StatePipelineConfigured)}, Dst: string(StatePipelineRealized)},
			{Name: eventStart, Src: []string{string(StatePipelineConfigured), string(StatePipelineRealized), string(StateStopped)}, Dst: string(StateStarted)},
			{Name: eventStop, Src: []string{string(StateStarted)}, Dst: string(StateStopped)},
			{Name: eventClose, Src: append([]string{string(StateIdle), string(StateCaptureConnected)}, withPipeline...), Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				entered(e.Src, e.Dst)
			},
		},
	)
}
