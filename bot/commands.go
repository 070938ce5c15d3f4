package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"validatorgate/backend"
	"validatorgate/platform"
	"validatorgate/roles"
	"validatorgate/session"
	"validatorgate/stats"
	"validatorgate/verification"
)

const maxNotifyLength = 1500

func (b *Bot) commands() []Command {
	addressOption := platform.ApplicationCommandOption{
		Type: platform.OptionString, Name: "address", Description: "Validator address (0x...)", Required: true,
	}
	return []Command{
		{
			Definition: platform.ApplicationCommand{Name: "verify", Description: "Verify wallet ownership and reputation score"},
			Handler:    b.handleVerify,
		},
		{
			Definition: platform.ApplicationCommand{Name: "status", Description: "Show your current verification session"},
			Handler:    b.handleStatus,
		},
		{
			Definition: platform.ApplicationCommand{
				Name: "validator", Description: "Validator liveness",
				Options: []platform.ApplicationCommandOption{
					{Type: platform.OptionSubCommand, Name: "stats", Description: "Current epoch stats", Options: []platform.ApplicationCommandOption{addressOption}},
					{Type: platform.OptionSubCommand, Name: "live", Description: "Whether the validator attested recently", Options: []platform.ApplicationCommandOption{addressOption}},
				},
			},
			Handler: b.handleValidator,
		},
		{
			Definition: platform.ApplicationCommand{
				Name: "chain", Description: "Chain state",
				Options: []platform.ApplicationCommandOption{
					{Type: platform.OptionSubCommand, Name: "info", Description: "Block, epoch and proposer"},
				},
			},
			Handler: b.handleChain,
		},
		{
			Definition: platform.ApplicationCommand{
				Name: "operator", Description: "Validator operator registration",
				Options: []platform.ApplicationCommandOption{
					{Type: platform.OptionSubCommand, Name: "register", Description: "Register as an operator", Options: []platform.ApplicationCommandOption{addressOption}},
					{Type: platform.OptionSubCommand, Name: "approve", Description: "Approve an operator (moderators)", Options: []platform.ApplicationCommandOption{
						{Type: platform.OptionUser, Name: "user", Description: "Operator to approve", Required: true},
					}},
					{Type: platform.OptionSubCommand, Name: "notify", Description: "Message an operator (moderators)", Options: []platform.ApplicationCommandOption{
						addressOption,
						{Type: platform.OptionString, Name: "message", Description: "Message text", Required: true},
					}},
				},
			},
			Handler: b.handleOperator,
		},
	}
}

// normalizeText folds compatibility characters and trims free text input.
func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

func (b *Bot) handleVerify(ctx context.Context, req *Request) error {
	if b.flow == nil {
		return notConfigured("verification flow")
	}
	sess, err := b.flow.Initiate(req.User.ID)
	if err != nil {
		return err
	}
	buttons := []platform.Component{
		platform.Button("connect_"+sess.ID, "Submit signature", platform.ButtonPrimary),
		platform.Button("status_"+sess.ID, "Check status", platform.ButtonSecondary),
	}
	if b.links != nil {
		link, err := b.links.Link(sess)
		if err != nil {
			b.logger.Warn("wallet link not issued", slog.String("session", sess.ID), slog.String("error", err.Error()))
		} else {
			buttons = append([]platform.Component{platform.LinkButton("Connect wallet", link)}, buttons...)
		}
	}
	content := fmt.Sprintf("Sign this message with your wallet, then submit the signature. The session expires <t:%d:R>.\n```\n%s\n```",
		sess.ExpiresAt().Unix(), verification.ChallengeMessage(sess.ID))
	return req.Respond.Reply(ctx, platform.MessageContent{
		Content:    content,
		Components: []platform.Component{platform.ActionRow(buttons...)},
		Flags:      platform.MessageFlagEphemeral,
	})
}

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	if b.flow == nil {
		return notConfigured("verification flow")
	}
	sess, err := b.flow.Latest(req.User.ID)
	if errors.Is(err, session.ErrNotFound) {
		if linked := b.linkedWallet(ctx, req.User.ID); linked != "" {
			return WrapUser(err, fmt.Sprintf("You have no active verification session. Wallet %s is already verified for your account.", linked))
		}
		return WrapUser(err, "You have no active verification session. Run /verify to start one.")
	}
	if err != nil {
		return err
	}
	return req.Respond.Reply(ctx, b.sessionMessage(sess))
}

// linkedWallet returns the verified wallet the backend holds for userID, if any.
func (b *Bot) linkedWallet(ctx context.Context, userID string) string {
	if b.users == nil {
		return ""
	}
	user, err := b.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			b.logger.Warn("user lookup failed", slog.String("user", userID), slog.String("error", err.Error()))
		}
		return ""
	}
	if !user.Verified {
		return ""
	}
	return user.Wallet
}

func (b *Bot) sessionMessage(sess session.Session) platform.MessageContent {
	fields := []platform.EmbedField{
		{Name: "Status", Value: statusLabel(sess.Status), Inline: true},
		{Name: "Expires", Value: fmt.Sprintf("<t:%d:R>", sess.ExpiresAt().Unix()), Inline: true},
	}
	if sess.WalletAddress != nil {
		fields = append(fields, platform.EmbedField{Name: "Wallet", Value: *sess.WalletAddress})
	}
	if sess.Score != nil {
		fields = append(fields, platform.EmbedField{Name: "Score", Value: fmt.Sprintf("%.1f", *sess.Score), Inline: true})
	}
	return platform.MessageContent{
		Embeds: []platform.Embed{{Title: "Verification session", Description: sess.ID, Fields: fields}},
		Flags:  platform.MessageFlagEphemeral,
	}
}

func statusLabel(s session.Status) string {
	switch s {
	case session.StatusInitiated:
		return "Waiting for wallet"
	case session.StatusWalletConnected:
		return "Waiting for signature"
	case session.StatusSignatureReceived:
		return "Signature verified"
	case session.StatusScoreRetrieved:
		return "Score retrieved"
	case session.StatusVerified:
		return "Verified"
	case session.StatusFailedScore:
		return "Score below minimum"
	case session.StatusError:
		return "Failed"
	default:
		return string(s)
	}
}

func (b *Bot) handleValidator(ctx context.Context, req *Request) error {
	switch req.Subcommand {
	case "stats":
		return b.replyStats(ctx, req, req.Option("address"), false)
	case "live":
		return b.replyStats(ctx, req, req.Option("address"), true)
	default:
		return Userf("Unknown subcommand.")
	}
}

func (b *Bot) replyStats(ctx context.Context, req *Request, rawAddress string, liveOnly bool) error {
	addr, err := verification.ParseAddress(normalizeText(rawAddress))
	if err != nil {
		return err
	}
	if b.stats == nil || b.chain == nil {
		return notConfigured("validator stats")
	}
	if err := req.Respond.Defer(ctx, true); err != nil {
		return err
	}
	epoch, err := b.chain.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("current epoch: %w", err)
	}
	vs, err := b.stats.Fetch(ctx, addr.Hex(), epoch)
	if err != nil {
		return err
	}
	now := b.now()
	live := stats.IsLive(vs, now)
	if liveOnly {
		state := "offline"
		if live {
			state = "live"
		}
		return req.Respond.Reply(ctx, ephemeral(fmt.Sprintf("Validator %s is %s (epoch %d).", addr.Hex(), state, epoch)))
	}
	fields := []platform.EmbedField{
		{Name: "Epoch", Value: fmt.Sprintf("%d", epoch), Inline: true},
		{Name: "Total slots", Value: fmt.Sprintf("%d", vs.TotalSlots), Inline: true},
		{Name: "Missed attestations", Value: fmt.Sprintf("%d", vs.MissedAttestations), Inline: true},
		{Name: "Missed proposals", Value: fmt.Sprintf("%d", vs.MissedProposals), Inline: true},
		{Name: "Miss rate", Value: fmt.Sprintf("%.2f%%", stats.MissPercentage(vs)), Inline: true},
		{Name: "Live", Value: yesNo(live), Inline: true},
		{Name: "Healthy", Value: yesNo(stats.Healthy(vs)), Inline: true},
	}
	inCommittee, err := b.chain.IsCommitteeMember(ctx, addr)
	if err != nil {
		b.logger.Warn("committee lookup failed", slog.String("address", addr.Hex()), slog.String("error", err.Error()))
		fields = append(fields, platform.EmbedField{Name: "Committee", Value: "unknown", Inline: true})
	} else {
		fields = append(fields, platform.EmbedField{Name: "Committee", Value: yesNo(inCommittee), Inline: true})
	}
	if !vs.LastAttestationAt.IsZero() {
		fields = append(fields, platform.EmbedField{Name: "Last attestation", Value: fmt.Sprintf("<t:%d:R>", vs.LastAttestationAt.Unix())})
	}
	return req.Respond.Reply(ctx, platform.MessageContent{
		Embeds: []platform.Embed{{Title: "Validator " + addr.Hex(), Fields: fields}},
		Components: []platform.Component{platform.ActionRow(
			platform.Button("validator_"+addr.Hex(), "Refresh", platform.ButtonSecondary),
		)},
	})
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (b *Bot) handleChain(ctx context.Context, req *Request) error {
	if req.Subcommand != "info" {
		return Userf("Unknown subcommand.")
	}
	if b.chain == nil {
		return notConfigured("chain")
	}
	if err := req.Respond.Defer(ctx, true); err != nil {
		return err
	}
	info, err := b.chain.Info(ctx)
	if err != nil {
		return fmt.Errorf("chain info: %w", err)
	}
	return req.Respond.Reply(ctx, platform.MessageContent{
		Embeds: []platform.Embed{{
			Title: "Chain",
			Fields: []platform.EmbedField{
				{Name: "Block", Value: fmt.Sprintf("%d", info.BlockNumber), Inline: true},
				{Name: "Epoch", Value: fmt.Sprintf("%d", info.Epoch), Inline: true},
				{Name: "Committee size", Value: fmt.Sprintf("%d", info.CommitteeSize), Inline: true},
				{Name: "Proposer", Value: info.Proposer.Hex()},
			},
		}},
	})
}

func (b *Bot) handleOperator(ctx context.Context, req *Request) error {
	switch req.Subcommand {
	case "register":
		return b.registerOperator(ctx, req)
	case "approve":
		return b.approveOperator(ctx, req, req.Option("user"))
	case "notify":
		return b.notifyOperator(ctx, req)
	default:
		return Userf("Unknown subcommand.")
	}
}

func (b *Bot) registerOperator(ctx context.Context, req *Request) error {
	addr, err := verification.ParseAddress(normalizeText(req.Option("address")))
	if err != nil {
		return err
	}
	if b.ops == nil {
		return notConfigured("backend")
	}
	if err := req.Respond.Defer(ctx, true); err != nil {
		return err
	}
	created := false
	op, err := b.ops.GetOperator(ctx, req.User.ID)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		op, err = b.ops.CreateOperator(ctx, backend.Operator{
			PlatformUserID: req.User.ID,
			Username:       req.User.Username,
			Address:        addr.Hex(),
			Status:         backend.OperatorPending,
		})
		if err != nil {
			return fmt.Errorf("create operator: %w", err)
		}
		created = true
	case err != nil:
		return fmt.Errorf("fetch operator: %w", err)
	}

	validators, err := b.ops.ListValidators(ctx, op.ID)
	if err != nil {
		return fmt.Errorf("list validators: %w", err)
	}
	for _, v := range validators {
		if strings.EqualFold(v.Address, addr.Hex()) {
			return Userf("%s is already registered to you.", addr.Hex())
		}
	}
	if _, err := b.ops.CreateValidator(ctx, backend.Validator{OperatorID: op.ID, Address: addr.Hex()}); err != nil {
		return fmt.Errorf("register validator: %w", err)
	}

	if b.roles != nil && b.cfg.OperatorRegisteredRole != "" {
		if _, err := b.roles.Assign(ctx, roles.RoleRequest(req.User.ID, b.cfg.OperatorRegisteredRole)); err != nil {
			return err
		}
	}
	if created {
		b.announce(ctx, platform.MessageContent{
			Content: fmt.Sprintf("<@%s> applied as a validator operator for %s.", req.User.ID, addr.Hex()),
			Components: []platform.Component{platform.ActionRow(
				platform.Button("approve_"+req.User.ID, "Approve", platform.ButtonSuccess),
				platform.Button("validator_"+addr.Hex(), "Validator stats", platform.ButtonSecondary),
			)},
		})
	}
	b.logger.Info("operator registered",
		slog.String("user", req.User.ID),
		slog.String("operator", op.ID),
		slog.String("address", addr.Hex()),
		slog.Int("validators", len(validators)+1),
		slog.Bool("new_operator", created))
	if op.Status == backend.OperatorApproved {
		return req.Respond.Reply(ctx, ephemeral(fmt.Sprintf("Added %s to your operator record (%d validators).", addr.Hex(), len(validators)+1)))
	}
	return req.Respond.Reply(ctx, ephemeral(fmt.Sprintf("Registered %s. A moderator will review your application.", addr.Hex())))
}

func (b *Bot) approveOperator(ctx context.Context, req *Request, userID string) error {
	if err := b.requireModerator(req); err != nil {
		return err
	}
	userID = normalizeText(userID)
	if userID == "" {
		return Userf("Choose the operator to approve.")
	}
	if b.ops == nil {
		return notConfigured("backend")
	}
	if err := req.Respond.Defer(ctx, true); err != nil {
		return err
	}
	op, err := b.ops.ApproveOperator(ctx, userID, req.User.ID)
	if errors.Is(err, backend.ErrNotFound) {
		return WrapUser(err, "That user has not registered as an operator.")
	}
	if err != nil {
		return fmt.Errorf("approve operator: %w", err)
	}

	var failed []string
	if b.roles != nil && len(b.cfg.OperatorApprovedRoles) > 0 {
		res, err := b.roles.Assign(ctx, roles.BulkRequest(userID, b.cfg.OperatorApprovedRoles...))
		if err != nil {
			return err
		}
		for _, f := range res.Failures {
			failed = append(failed, f.Role)
		}
	}
	if err := b.ops.SendMessage(ctx, backend.Message{
		OperatorID: op.ID,
		Subject:    "Operator approved",
		Body:       "Your validator operator application has been approved.",
		SentBy:     req.User.ID,
	}); err != nil {
		b.logger.Warn("approval notification failed", slog.String("operator", op.ID), slog.String("error", err.Error()))
	}
	b.directMessage(ctx, userID, "Your validator operator application has been approved.")
	b.announce(ctx, platform.MessageContent{
		Content: fmt.Sprintf("<@%s> was approved as a validator operator by <@%s>.", userID, req.User.ID),
	})

	b.logger.Info("operator approved",
		slog.String("user", userID),
		slog.String("operator", op.ID),
		slog.String("moderator", req.User.ID),
		slog.Int("role_failures", len(failed)))
	msg := fmt.Sprintf("Approved <@%s>.", userID)
	if len(failed) > 0 {
		msg += " Some roles could not be granted: " + strings.Join(failed, ", ")
	}
	return req.Respond.Reply(ctx, ephemeral(msg))
}

func (b *Bot) notifyOperator(ctx context.Context, req *Request) error {
	if err := b.requireModerator(req); err != nil {
		return err
	}
	addr, err := verification.ParseAddress(normalizeText(req.Option("address")))
	if err != nil {
		return err
	}
	body := normalizeText(req.Option("message"))
	if body == "" {
		return Userf("The message cannot be empty.")
	}
	if len(body) > maxNotifyLength {
		return Userf("The message is too long (at most %d characters).", maxNotifyLength)
	}
	if b.ops == nil {
		return notConfigured("backend")
	}
	if err := req.Respond.Defer(ctx, true); err != nil {
		return err
	}
	op, err := b.ops.GetOperatorByAddress(ctx, addr.Hex())
	if errors.Is(err, backend.ErrNotFound) {
		return WrapUser(err, "No operator is registered for that address.")
	}
	if err != nil {
		return fmt.Errorf("look up operator: %w", err)
	}
	msg := backend.Message{OperatorID: op.ID, Address: addr.Hex(), Body: body, SentBy: req.User.ID}
	if err := b.ops.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("relay message: %w", err)
	}
	return req.Respond.Reply(ctx, ephemeral("Message sent to the operator of "+addr.Hex()+"."))
}

// announce posts to the log channel and schedules the message for cleanup.
func (b *Bot) announce(ctx context.Context, content platform.MessageContent) {
	if b.cfg.AnnounceChannelID == "" {
		return
	}
	msg, err := b.platform.SendChannelMessage(ctx, b.cfg.AnnounceChannelID, content)
	if err != nil {
		b.logger.Warn("announcement failed", slog.String("channel", b.cfg.AnnounceChannelID), slog.String("error", err.Error()))
		return
	}
	if b.cleanup != nil && b.cfg.AnnounceTTL > 0 {
		b.cleanup.Track(msg.ChannelID, msg.ID, b.cfg.AnnounceTTL)
	}
}

// directMessage best-effort notifies a user outside the interaction.
func (b *Bot) directMessage(ctx context.Context, userID, content string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := b.platform.SendDirectMessage(ctx, userID, platform.MessageContent{Content: content}); err != nil {
		b.logger.Debug("direct message failed", slog.String("user", userID), slog.String("error", err.Error()))
	}
}
