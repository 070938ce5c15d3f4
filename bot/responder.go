package bot

import (
	"context"
	"errors"
	"sync"

	"validatorgate/platform"
)

// Responses is the platform surface used to answer interactions.
type Responses interface {
	RespondInteraction(ctx context.Context, interactionID, token string, resp platform.InteractionResponse) error
	EditOriginalResponse(ctx context.Context, token string, msg platform.MessageContent) error
}

type ackState int

const (
	ackNone ackState = iota
	ackReplied
	ackDeferred
	ackModal
)

var errModalAcknowledged = errors.New("interaction already answered with a modal")

// Responder answers one interaction. The first call acknowledges it; later
// replies edit the original response so at most one callback is ever sent.
type Responder struct {
	api         Responses
	interaction *platform.Interaction

	mu    sync.Mutex
	state ackState
}

// NewResponder binds a responder to in.
func NewResponder(api Responses, in *platform.Interaction) *Responder {
	return &Responder{api: api, interaction: in}
}

// Acknowledged reports whether a callback has been sent.
func (r *Responder) Acknowledged() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != ackNone
}

// Defer acknowledges the interaction and shows a loading state. It is a no-op
// once acknowledged.
func (r *Responder) Defer(ctx context.Context, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ackNone {
		return nil
	}
	data := platform.MessageContent{}
	if ephemeral {
		data.Flags = platform.MessageFlagEphemeral
	}
	if err := r.api.RespondInteraction(ctx, r.interaction.ID, r.interaction.Token, platform.InteractionResponse{
		Type: platform.ResponseDeferredChannelMessage,
		Data: data,
	}); err != nil {
		return err
	}
	r.state = ackDeferred
	return nil
}

// Reply sends msg as the initial response, or edits the original response when
// the interaction was already acknowledged.
func (r *Responder) Reply(ctx context.Context, msg platform.MessageContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case ackNone:
		if err := r.api.RespondInteraction(ctx, r.interaction.ID, r.interaction.Token, platform.InteractionResponse{
			Type: platform.ResponseChannelMessage,
			Data: msg,
		}); err != nil {
			return err
		}
		r.state = ackReplied
		return nil
	case ackModal:
		return errModalAcknowledged
	default:
		msg.Flags = 0
		return r.api.EditOriginalResponse(ctx, r.interaction.Token, msg)
	}
}

// ShowModal answers the interaction with a pop-up form.
func (r *Responder) ShowModal(ctx context.Context, modal platform.Modal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ackNone {
		return errors.New("interaction already acknowledged")
	}
	if err := r.api.RespondInteraction(ctx, r.interaction.ID, r.interaction.Token, platform.InteractionResponse{
		Type: platform.ResponseModal,
		Data: modal,
	}); err != nil {
		return err
	}
	r.state = ackModal
	return nil
}

func ephemeral(content string) platform.MessageContent {
	return platform.MessageContent{Content: content, Flags: platform.MessageFlagEphemeral}
}
