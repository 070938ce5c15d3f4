// Package platformtest provides an in-memory platform used by tests.
package platformtest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"validatorgate/platform"
)

// Call records one method invocation.
type Call struct {
	Method string
	Args   []string
}

// Response records an initial interaction callback.
type Response struct {
	InteractionID string
	Token         string
	Response      platform.InteractionResponse
}

// Edit records an edit of an original interaction reply.
type Edit struct {
	Token   string
	Message platform.MessageContent
}

// Sent records a posted channel or direct message.
type Sent struct {
	ChannelID string
	UserID    string
	Message   platform.MessageContent
}

// Platform is a concurrency-safe fake of the platform REST surface.
type Platform struct {
	mu       sync.Mutex
	guilds   map[string]*guild
	calls    []Call
	failures map[string]error
	nextID   int

	Responses []Response
	Edits     []Edit
	Sent      []Sent
	Deleted   []string
	Commands  map[string][]platform.ApplicationCommand
}

type guild struct {
	info    platform.Guild
	members map[string]*platform.Member
}

// New returns an empty fake.
func New() *Platform {
	return &Platform{
		guilds:   make(map[string]*guild),
		failures: make(map[string]error),
		Commands: make(map[string][]platform.ApplicationCommand),
	}
}

// AddGuild registers a guild with the named roles. Role ids are "<guildID>-<name>".
func (p *Platform) AddGuild(guildID string, roleNames ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := &guild{info: platform.Guild{ID: guildID, Name: "guild " + guildID}, members: make(map[string]*platform.Member)}
	for _, name := range roleNames {
		g.info.Roles = append(g.info.Roles, platform.Role{ID: RoleID(guildID, name), Name: name})
	}
	p.guilds[guildID] = g
}

// AddMember registers a member holding the named roles.
func (p *Platform) AddMember(guildID, userID string, roleNames ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.guilds[guildID]
	if !ok {
		panic("platformtest: unknown guild " + guildID)
	}
	member := &platform.Member{User: &platform.User{ID: userID, Username: "user" + userID}, Roles: []string{}}
	for _, name := range roleNames {
		member.Roles = append(member.Roles, RoleID(guildID, name))
	}
	g.members[userID] = member
}

// RoleID returns the id assigned to a role created by AddGuild.
func RoleID(guildID, name string) string { return guildID + "-" + name }

// Fail makes every later call of method return err. A nil err clears it.
func (p *Platform) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, method)
		return
	}
	p.failures[method] = err
}

// HasRole reports whether the member currently holds the named role.
func (p *Platform) HasRole(guildID, userID, roleName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.guilds[guildID]
	if !ok {
		return false
	}
	m, ok := g.members[userID]
	return ok && m.HasRole(RoleID(guildID, roleName))
}

// Calls returns a copy of the recorded calls.
func (p *Platform) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns how often method was invoked.
func (p *Platform) CallCount(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Snapshot returns copies of the recorded interaction traffic.
func (p *Platform) Snapshot() ([]Response, []Edit, []Sent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Response(nil), p.Responses...), append([]Edit(nil), p.Edits...), append([]Sent(nil), p.Sent...)
}

func (p *Platform) record(method string, args ...string) error {
	p.calls = append(p.calls, Call{Method: method, Args: args})
	return p.failures[method]
}

func notFound(what string) error {
	return &platform.APIError{Status: http.StatusNotFound, Message: "Unknown " + what}
}

func (p *Platform) Guild(_ context.Context, guildID string) (platform.Guild, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Guild", guildID); err != nil {
		return platform.Guild{}, err
	}
	g, ok := p.guilds[guildID]
	if !ok {
		return platform.Guild{}, notFound("Guild")
	}
	info := g.info
	info.Roles = append([]platform.Role(nil), g.info.Roles...)
	return info, nil
}

func (p *Platform) GuildRoles(_ context.Context, guildID string) ([]platform.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("GuildRoles", guildID); err != nil {
		return nil, err
	}
	g, ok := p.guilds[guildID]
	if !ok {
		return nil, notFound("Guild")
	}
	return append([]platform.Role(nil), g.info.Roles...), nil
}

func (p *Platform) GuildMember(_ context.Context, guildID, userID string) (platform.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("GuildMember", guildID, userID); err != nil {
		return platform.Member{}, err
	}
	g, ok := p.guilds[guildID]
	if !ok {
		return platform.Member{}, notFound("Guild")
	}
	m, ok := g.members[userID]
	if !ok {
		return platform.Member{}, notFound("Member")
	}
	out := *m
	out.Roles = append([]string(nil), m.Roles...)
	return out, nil
}

func (p *Platform) AddMemberRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("AddMemberRole", guildID, userID, roleID); err != nil {
		return err
	}
	m, err := p.memberLocked(guildID, userID)
	if err != nil {
		return err
	}
	if !m.HasRole(roleID) {
		m.Roles = append(m.Roles, roleID)
		sort.Strings(m.Roles)
	}
	return nil
}

func (p *Platform) RemoveMemberRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("RemoveMemberRole", guildID, userID, roleID); err != nil {
		return err
	}
	m, err := p.memberLocked(guildID, userID)
	if err != nil {
		return err
	}
	kept := m.Roles[:0]
	for _, id := range m.Roles {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.Roles = kept
	return nil
}

func (p *Platform) memberLocked(guildID, userID string) (*platform.Member, error) {
	g, ok := p.guilds[guildID]
	if !ok {
		return nil, notFound("Guild")
	}
	m, ok := g.members[userID]
	if !ok {
		return nil, notFound("Member")
	}
	return m, nil
}

func (p *Platform) RespondInteraction(_ context.Context, interactionID, token string, resp platform.InteractionResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("RespondInteraction", interactionID, token); err != nil {
		return err
	}
	p.Responses = append(p.Responses, Response{InteractionID: interactionID, Token: token, Response: resp})
	return nil
}

func (p *Platform) EditOriginalResponse(_ context.Context, token string, msg platform.MessageContent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("EditOriginalResponse", token); err != nil {
		return err
	}
	p.Edits = append(p.Edits, Edit{Token: token, Message: msg})
	return nil
}

func (p *Platform) SendChannelMessage(_ context.Context, channelID string, msg platform.MessageContent) (platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SendChannelMessage", channelID); err != nil {
		return platform.Message{}, err
	}
	p.Sent = append(p.Sent, Sent{ChannelID: channelID, Message: msg})
	return platform.Message{ID: p.newIDLocked(), ChannelID: channelID, Content: msg.Content}, nil
}

func (p *Platform) SendDirectMessage(_ context.Context, userID string, msg platform.MessageContent) (platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("SendDirectMessage", userID); err != nil {
		return platform.Message{}, err
	}
	p.Sent = append(p.Sent, Sent{UserID: userID, Message: msg})
	return platform.Message{ID: p.newIDLocked(), ChannelID: "dm-" + userID, Content: msg.Content}, nil
}

func (p *Platform) DeleteMessage(_ context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("DeleteMessage", channelID, messageID); err != nil {
		return err
	}
	p.Deleted = append(p.Deleted, channelID+"/"+messageID)
	return nil
}

func (p *Platform) BulkOverwriteGuildCommands(_ context.Context, guildID string, cmds []platform.ApplicationCommand) ([]platform.ApplicationCommand, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("BulkOverwriteGuildCommands", guildID); err != nil {
		return nil, err
	}
	out := make([]platform.ApplicationCommand, len(cmds))
	for i, cmd := range cmds {
		cmd.ID = fmt.Sprintf("cmd-%s", cmd.Name)
		out[i] = cmd
	}
	p.Commands[guildID] = out
	return out, nil
}

func (p *Platform) newIDLocked() string {
	p.nextID++
	return "m" + strconv.Itoa(p.nextID)
}
