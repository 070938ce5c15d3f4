package bot

import (
	"context"
	"fmt"

	"validatorgate/platform"
	"validatorgate/verification"
)

// Modal field ids.
const (
	fieldAddress   = "address"
	fieldSignature = "signature"
)

func (b *Bot) components() {
	b.router.HandlePrefix("connect", b.handleConnect)
	b.router.HandlePrefix("wallet", b.handleWalletModal)
	b.router.HandlePrefix("status", b.handleStatusButton)
	b.router.HandlePrefix("validator", b.handleValidatorButton)
	b.router.HandlePrefix("approve", b.handleApproveButton)
}

func (b *Bot) handleConnect(ctx context.Context, req *Request) error {
	if b.flow == nil {
		return notConfigured("verification flow")
	}
	sess, err := b.flow.Status(req.Payload, req.User.ID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return verification.ErrSessionClosed
	}
	address := platform.TextInput(fieldAddress, "Wallet address", platform.TextInputShort, true)
	address.Placeholder = "0x..."
	address.MinLength, address.MaxLength = 40, 42
	signature := platform.TextInput(fieldSignature, "Signature of the challenge message", platform.TextInputParagraph, true)
	signature.Placeholder = "0x..."
	return req.Respond.ShowModal(ctx, platform.Modal{
		CustomID: "wallet_" + sess.ID,
		Title:    "Verify wallet",
		Components: []platform.Component{
			platform.ActionRow(address),
			platform.ActionRow(signature),
		},
	})
}

func (b *Bot) handleWalletModal(ctx context.Context, req *Request) error {
	if b.flow == nil {
		return notConfigured("verification flow")
	}
	address := normalizeText(req.Modal.Value(fieldAddress))
	if _, err := verification.ParseAddress(address); err != nil {
		return err
	}
	signature := normalizeText(req.Modal.Value(fieldSignature))
	if err := req.Respond.Defer(ctx, true); err != nil {
		return err
	}
	out, err := b.flow.Verify(ctx, req.Payload, req.User.ID, address, signature)
	if err != nil {
		return err
	}
	if out.Passed {
		return req.Respond.Reply(ctx, ephemeral(fmt.Sprintf("Verified. Your score is %.1f and the verified role has been granted.", out.Score)))
	}
	return req.Respond.Reply(ctx, ephemeral(fmt.Sprintf("Your score is %.1f, below the required %.1f. The verified role was not granted.", out.Score, b.cfg.MinimumScore)))
}

func (b *Bot) handleStatusButton(ctx context.Context, req *Request) error {
	if b.flow == nil {
		return notConfigured("verification flow")
	}
	sess, err := b.flow.Status(req.Payload, req.User.ID)
	if err != nil {
		return err
	}
	return req.Respond.Reply(ctx, b.sessionMessage(sess))
}

func (b *Bot) handleValidatorButton(ctx context.Context, req *Request) error {
	return b.replyStats(ctx, req, req.Payload, false)
}

func (b *Bot) handleApproveButton(ctx context.Context, req *Request) error {
	return b.approveOperator(ctx, req, req.Payload)
}
