package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/lessoncall/internal/media"
)

// Provider runs lesson calls in Discord voice channels. Each provisioned room
// is a voice channel in the configured guild, and the bot is the local
// participant of every joined room.
type Provider struct {
	session    *discordgo.Session
	token      string
	guildID    string
	categoryID string
	botUserID  string

	// joinMu serializes joins so a shared channel is only connected once.
	joinMu sync.Mutex
	mu     sync.Mutex
	rooms  map[string]*roomWatch
}

func NewProvider(token, guildID, categoryID string) *Provider {
	return &Provider{
		token:      token,
		guildID:    guildID,
		categoryID: categoryID,
		rooms:      make(map[string]*roomWatch),
	}
}

func (p *Provider) Connect(ctx context.Context) error {
	_ = ctx
	s, err := discordgo.New("Bot " + p.token)
	if err != nil {
		return err
	}
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates)
	s.State.TrackVoice = true
	// Voice state updates must reach rooms in gateway order.
	s.SyncEvents = true
	s.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		p.dispatch(vs)
	})
	p.session = s
	if err := s.Open(); err != nil {
		return err
	}
	userID, err := p.resolveBotUserID()
	if err != nil {
		return err
	}
	p.botUserID = userID
	slog.Info("discord provider connected", "guild_id", p.guildID, "bot_user_id", userID)
	return nil
}

func (p *Provider) Close() error {
	if p.session != nil {
		return p.session.Close()
	}
	return nil
}

func (p *Provider) Provision(ctx context.Context, req media.ProvisionRequest) (media.RoomRef, error) {
	ch, err := p.session.GuildChannelCreateComplex(p.guildID, discordgo.GuildChannelCreateData{
		Name:      roomName(req.LessonID),
		Type:      discordgo.ChannelTypeGuildVoice,
		ParentID:  p.categoryID,
		UserLimit: 3,
	})
	if err != nil {
		return media.RoomRef{}, fmt.Errorf("failed to create voice channel: %w", err)
	}
	slog.InfoContext(ctx, "voice channel created", "lesson_id", req.LessonID, "channel_id", ch.ID)
	return media.RoomRef{URL: channelURL(p.guildID, ch.ID), RoomID: ch.ID}, nil
}

// Destroy deletes the voice channel. A channel that is already gone counts as
// destroyed.
func (p *Provider) Destroy(ctx context.Context, room media.RoomRef) error {
	if _, err := p.session.ChannelDelete(room.RoomID); err != nil && !isRESTNotFound(err) {
		return fmt.Errorf("failed to delete voice channel: %w", err)
	}
	slog.InfoContext(ctx, "voice channel deleted", "channel_id", room.RoomID)
	return nil
}

// Join attaches onEvent to the voice channel. The bot connects on the first
// join; later joins of the same channel share that connection, and the bot
// disconnects when the last of them leaves.
func (p *Provider) Join(ctx context.Context, room media.RoomRef, displayName string, onEvent media.EventHandler) (media.Conn, error) {
	p.joinMu.Lock()
	defer p.joinMu.Unlock()

	p.mu.Lock()
	w, shared := p.rooms[room.RoomID]
	if !shared {
		w = newRoomWatch(room.RoomID)
		p.rooms[room.RoomID] = w
	}
	p.mu.Unlock()

	if !shared {
		vc, err := p.session.ChannelVoiceJoin(p.guildID, room.RoomID, false, true)
		if err != nil {
			p.forget(room.RoomID)
			return nil, fmt.Errorf("failed to join voice channel: %w", err)
		}
		w.setVoice(vc)
	}

	id := w.attach(onEvent)
	w.emitTo(id, media.EventJoined, media.Participant{
		ID:          p.botUserID,
		DisplayName: displayName,
		Local:       true,
		Audio:       true,
	})
	for _, vs := range p.channelVoiceStates(room.RoomID) {
		if vs.UserID == p.botUserID {
			continue
		}
		w.emitTo(id, media.EventParticipantJoined, p.participant(vs))
	}
	slog.InfoContext(ctx, "voice channel joined", "channel_id", room.RoomID, "shared", shared)
	return &voiceConn{provider: p, watch: w, id: id}, nil
}

func (p *Provider) forget(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, channelID)
}

// forgetWatch drops w unless the channel has been joined again since.
func (p *Provider) forgetWatch(w *roomWatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[w.channelID] == w {
		delete(p.rooms, w.channelID)
	}
}

// dispatch routes a voice state change to the rooms it leaves and enters.
func (p *Provider) dispatch(vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil || vs.GuildID != p.guildID {
		return
	}
	before := ""
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	p.mu.Lock()
	targets := make([]*roomWatch, 0, 2)
	if w, ok := p.rooms[before]; ok {
		targets = append(targets, w)
	}
	if w, ok := p.rooms[vs.ChannelID]; ok && vs.ChannelID != before {
		targets = append(targets, w)
	}
	p.mu.Unlock()

	for _, w := range targets {
		typ, ok := classifyVoiceState(vs, w.channelID, p.botUserID)
		if !ok {
			continue
		}
		var err error
		if typ == media.EventLeft {
			err = errors.New("bot was removed from the voice channel")
			p.forgetWatch(w)
		}
		w.emit(typ, p.participant(vs.VoiceState), err)
	}
}

// classifyVoiceState maps a voice state change to the event seen from
// channelID.
func classifyVoiceState(vs *discordgo.VoiceStateUpdate, channelID, botUserID string) (media.EventType, bool) {
	before := ""
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	after := vs.ChannelID
	self := vs.UserID == botUserID

	switch {
	case before != channelID && after == channelID:
		if self {
			return "", false
		}
		return media.EventParticipantJoined, true
	case before == channelID && after != channelID:
		if self {
			return media.EventLeft, true
		}
		return media.EventParticipantLeft, true
	case before == channelID && after == channelID:
		if self {
			return "", false
		}
		return media.EventParticipantUpdated, true
	default:
		return "", false
	}
}

func (p *Provider) participant(vs *discordgo.VoiceState) media.Participant {
	return media.Participant{
		ID:          vs.UserID,
		DisplayName: p.displayName(vs),
		Audio:       !vs.SelfMute && !vs.Mute,
		Video:       vs.SelfVideo,
	}
}

func (p *Provider) displayName(vs *discordgo.VoiceState) string {
	member := vs.Member
	if member == nil {
		member = p.resolveGuildMember(vs.UserID)
	}
	if member == nil {
		return vs.UserID
	}
	if member.Nick != "" {
		return member.Nick
	}
	if member.User != nil {
		return preferredDiscordName(member.User.GlobalName, member.User.Username, vs.UserID)
	}
	return vs.UserID
}

func (p *Provider) channelVoiceStates(channelID string) []*discordgo.VoiceState {
	if p.session == nil || p.session.State == nil {
		return nil
	}
	guild, err := p.session.State.Guild(p.guildID)
	if err != nil || guild == nil {
		return nil
	}
	out := make([]*discordgo.VoiceState, 0)
	for _, state := range guild.VoiceStates {
		if state != nil && state.ChannelID == channelID && state.UserID != "" {
			out = append(out, state)
		}
	}
	return out
}

func (p *Provider) resolveGuildMember(userID string) *discordgo.Member {
	if p.session == nil {
		return nil
	}
	if p.session.State != nil {
		member, err := p.session.State.Member(p.guildID, userID)
		if err == nil && member != nil {
			return member
		}
	}
	member, err := p.session.GuildMember(p.guildID, userID)
	if err != nil {
		return nil
	}
	return member
}

func (p *Provider) resolveBotUserID() (string, error) {
	if p.session.State != nil && p.session.State.User != nil && p.session.State.User.ID != "" {
		return p.session.State.User.ID, nil
	}
	u, err := p.session.User("@me")
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// roomWatch fans the events of one voice channel out to every session that
// joined it. Seq is shared, so each observer sees increasing numbers.
type roomWatch struct {
	channelID string

	mu        sync.Mutex
	vc        *discordgo.VoiceConnection
	seq       uint64
	nextID    int
	observers map[int]media.EventHandler
}

func newRoomWatch(channelID string) *roomWatch {
	return &roomWatch{channelID: channelID, observers: make(map[int]media.EventHandler)}
}

func (w *roomWatch) setVoice(vc *discordgo.VoiceConnection) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.vc = vc
}

func (w *roomWatch) attach(fn media.EventHandler) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.observers[w.nextID] = fn
	return w.nextID
}

// detach removes an observer and returns the voice connection once nobody
// is left.
func (w *roomWatch) detach(id int) (*discordgo.VoiceConnection, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.observers, id)
	if len(w.observers) > 0 {
		return nil, false
	}
	vc := w.vc
	w.vc = nil
	return vc, true
}

func (w *roomWatch) emit(typ media.EventType, participant media.Participant, err error) {
	w.mu.Lock()
	w.seq++
	ev := media.Event{Type: typ, Seq: w.seq, Participant: participant, Err: err}
	handlers := make([]media.EventHandler, 0, len(w.observers))
	for _, fn := range w.observers {
		handlers = append(handlers, fn)
	}
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (w *roomWatch) emitTo(id int, typ media.EventType, participant media.Participant) {
	w.mu.Lock()
	w.seq++
	ev := media.Event{Type: typ, Seq: w.seq, Participant: participant}
	fn := w.observers[id]
	w.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

type voiceConn struct {
	provider *Provider
	watch    *roomWatch
	id       int
}

// SetLocalAudio toggles the bot's self-mute in the channel.
func (c *voiceConn) SetLocalAudio(ctx context.Context, enabled bool) error {
	return c.provider.session.ChannelVoiceJoinManual(c.provider.guildID, c.watch.channelID, !enabled, true)
}

func (c *voiceConn) SetLocalVideo(ctx context.Context, enabled bool) error {
	return media.ErrDeviceUnsupported
}

func (c *voiceConn) Leave(ctx context.Context) error {
	vc, last := c.watch.detach(c.id)
	if !last {
		return nil
	}
	c.provider.forgetWatch(c.watch)
	if vc == nil {
		return nil
	}
	return vc.Disconnect()
}

func roomName(lessonID string) string {
	return "lesson-" + lessonID
}

func channelURL(guildID, channelID string) string {
	return "https://discord.com/channels/" + guildID + "/" + channelID
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}

func preferredDiscordName(globalName, username, fallback string) string {
	if globalName != "" {
		return globalName
	}
	if username != "" {
		return username
	}
	return fallback
}
