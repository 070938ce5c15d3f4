package platform

import (
	"encoding/json"
	"strings"
)

// InteractionType enumerates the interaction payload kinds delivered by the gateway.
type InteractionType int

const (
	InteractionPing               InteractionType = 1
	InteractionApplicationCommand InteractionType = 2
	InteractionMessageComponent   InteractionType = 3
	InteractionAutocomplete       InteractionType = 4
	InteractionModalSubmit        InteractionType = 5
)

// ResponseType enumerates interaction callback kinds.
type ResponseType int

const (
	ResponseChannelMessage         ResponseType = 4
	ResponseDeferredChannelMessage ResponseType = 5
	ResponseDeferredUpdateMessage  ResponseType = 6
	ResponseModal                  ResponseType = 9
)

// MessageFlagEphemeral limits a reply to the invoking user.
const MessageFlagEphemeral = 1 << 6

// OptionType enumerates slash command option kinds.
type OptionType int

const (
	OptionSubCommand OptionType = 1
	OptionString     OptionType = 3
	OptionInteger    OptionType = 4
	OptionBoolean    OptionType = 5
	OptionUser       OptionType = 6
	OptionNumber     OptionType = 10
)

// Component kinds.
const (
	ComponentActionRow = 1
	ComponentButton    = 2
	ComponentTextInput = 4
)

// Button styles.
const (
	ButtonPrimary   = 1
	ButtonSecondary = 2
	ButtonSuccess   = 3
	ButtonDanger    = 4
	ButtonLink      = 5
)

// Text input styles.
const (
	TextInputShort     = 1
	TextInputParagraph = 2
)

// User is a platform account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}

// Member is a user's membership in a guild.
type Member struct {
	User  *User    `json:"user,omitempty"`
	Nick  string   `json:"nick,omitempty"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the member holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, id := range m.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

// Role is a guild role.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Guild is the community the bot works in.
type Guild struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Roles []Role `json:"roles,omitempty"`
}

// RoleByName finds a role by exact name, then case-insensitively.
func RoleByName(roles []Role, name string) (Role, bool) {
	name = strings.TrimSpace(name)
	for _, role := range roles {
		if role.Name == name {
			return role, true
		}
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, name) {
			return role, true
		}
	}
	return Role{}, false
}

// Interaction is a user-initiated event.
type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          InteractionType `json:"type"`
	Token         string          `json:"token"`
	GuildID       string          `json:"guild_id,omitempty"`
	ChannelID     string          `json:"channel_id,omitempty"`
	Member        *Member         `json:"member,omitempty"`
	User          *User           `json:"user,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Invoker returns the user who triggered the interaction. It is nil for
// malformed payloads.
func (i Interaction) Invoker() *User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// CommandData is the payload of an application command interaction.
type CommandData struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Options []CommandOption `json:"options,omitempty"`
}

// CommandOption is one supplied option, possibly a subcommand with nested options.
type CommandOption struct {
	Name    string          `json:"name"`
	Type    OptionType      `json:"type"`
	Value   json.RawMessage `json:"value,omitempty"`
	Options []CommandOption `json:"options,omitempty"`
}

// Subcommand returns the first subcommand option and its nested options.
func (d CommandData) Subcommand() (string, []CommandOption) {
	for _, opt := range d.Options {
		if opt.Type == OptionSubCommand {
			return opt.Name, opt.Options
		}
	}
	return "", d.Options
}

// StringOption returns the string value of the named option.
func StringOption(opts []CommandOption, name string) (string, bool) {
	for _, opt := range opts {
		if opt.Name != name || len(opt.Value) == 0 {
			continue
		}
		var value string
		if err := json.Unmarshal(opt.Value, &value); err != nil {
			return strings.Trim(string(opt.Value), `"`), true
		}
		return value, true
	}
	return "", false
}

// ComponentData is the payload of a button interaction.
type ComponentData struct {
	CustomID      string `json:"custom_id"`
	ComponentType int    `json:"component_type"`
}

// ModalData is the payload of a modal submission.
type ModalData struct {
	CustomID   string      `json:"custom_id"`
	Components []Component `json:"components"`
}

// Value returns the submitted value of the text input identified by customID.
func (d ModalData) Value(customID string) string {
	var find func([]Component) (string, bool)
	find = func(components []Component) (string, bool) {
		for _, c := range components {
			if c.Type == ComponentTextInput && c.CustomID == customID {
				return c.Value, true
			}
			if v, ok := find(c.Components); ok {
				return v, true
			}
		}
		return "", false
	}
	v, _ := find(d.Components)
	return v
}

// Component is a message or modal component.
type Component struct {
	Type        int         `json:"type"`
	CustomID    string      `json:"custom_id,omitempty"`
	Style       int         `json:"style,omitempty"`
	Label       string      `json:"label,omitempty"`
	URL         string      `json:"url,omitempty"`
	Value       string      `json:"value,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
	Required    bool        `json:"required,omitempty"`
	MinLength   int         `json:"min_length,omitempty"`
	MaxLength   int         `json:"max_length,omitempty"`
	Components  []Component `json:"components,omitempty"`
}

// ActionRow wraps components into a row.
func ActionRow(components ...Component) Component {
	return Component{Type: ComponentActionRow, Components: components}
}

// Button builds an interactive button.
func Button(customID, label string, style int) Component {
	return Component{Type: ComponentButton, CustomID: customID, Label: label, Style: style}
}

// LinkButton builds a button opening url.
func LinkButton(label, url string) Component {
	return Component{Type: ComponentButton, Label: label, URL: url, Style: ButtonLink}
}

// TextInput builds a single modal field.
func TextInput(customID, label string, style int, required bool) Component {
	return Component{Type: ComponentTextInput, CustomID: customID, Label: label, Style: style, Required: required}
}

// Embed is rich message content.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// MessageContent is the body of a reply, edit or channel message.
type MessageContent struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []Component `json:"components,omitempty"`
	Flags      int         `json:"flags,omitempty"`
}

// Modal is a pop-up form.
type Modal struct {
	CustomID   string      `json:"custom_id"`
	Title      string      `json:"title"`
	Components []Component `json:"components"`
}

// Message is a posted channel message.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content,omitempty"`
}

// InteractionResponse is an interaction callback body.
type InteractionResponse struct {
	Type ResponseType `json:"type"`
	Data any          `json:"data,omitempty"`
}

// ApplicationCommand declares a slash command.
type ApplicationCommand struct {
	ID                       string                     `json:"id,omitempty"`
	Name                     string                     `json:"name"`
	Description              string                     `json:"description"`
	Options                  []ApplicationCommandOption `json:"options,omitempty"`
	DefaultMemberPermissions *string                    `json:"default_member_permissions,omitempty"`
}

// ApplicationCommandOption declares a command option or subcommand.
type ApplicationCommandOption struct {
	Type        OptionType                 `json:"type"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Required    bool                       `json:"required,omitempty"`
	Options     []ApplicationCommandOption `json:"options,omitempty"`
}

// Ready is the payload of the READY dispatch.
type Ready struct {
	SessionID string `json:"session_id"`
	User      User   `json:"user"`
	Guilds    []struct {
		ID string `json:"id"`
	} `json:"guilds"`
}

// EventKind enumerates the events surfaced by the gateway.
type EventKind int

const (
	EventReady EventKind = iota + 1
	EventInteractionCreate
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventInteractionCreate:
		return "interaction_create"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the single value type consumed by the bot's dispatch loop.
type Event struct {
	Kind        EventKind
	Ready       *Ready
	Interaction *Interaction
	Err         error
}
