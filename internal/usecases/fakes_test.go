package usecases

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"converta/internal/entities"
	"converta/internal/repository"

	"github.com/google/uuid"
)

type fakeAgents struct {
	mu       sync.Mutex
	agents   []entities.Agent
	bindings map[string][]string // channel|routing key -> agent ids
	err      error
}

func newFakeAgents(agents ...entities.Agent) *fakeAgents {
	return &fakeAgents{agents: agents, bindings: map[string][]string{}}
}

func (f *fakeAgents) bind(channel entities.Channel, key, agentID string) {
	k := string(channel) + "|" + key
	f.bindings[k] = append(f.bindings[k], agentID)
}

func (f *fakeAgents) ListActiveByOwner(_ context.Context, userID int, channel entities.Channel) ([]entities.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []entities.Agent
	for _, a := range f.agents {
		if a.UserID == userID && a.Channel == channel && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAgents) ListActiveByBinding(_ context.Context, channel entities.Channel, key string) ([]entities.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []entities.Agent
	for _, id := range f.bindings[string(channel)+"|"+key] {
		for _, a := range f.agents {
			if a.ID == id && a.Active {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (f *fakeAgents) Create(_ context.Context, a *entities.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now()
	f.agents = append(f.agents, *a)
	return nil
}

func (f *fakeAgents) Get(_ context.Context, userID int, id string) (*entities.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.ID == id && a.UserID == userID {
			found := a
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAgents) ListByUser(_ context.Context, userID int) ([]entities.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entities.Agent{}
	for _, a := range f.agents {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAgents) Update(_ context.Context, a *entities.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.agents {
		if f.agents[i].ID == a.ID && f.agents[i].UserID == a.UserID {
			f.agents[i] = *a
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeAgents) SetActive(_ context.Context, userID int, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.agents {
		if f.agents[i].ID == id && f.agents[i].UserID == userID {
			f.agents[i].Active = active
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeAgents) Delete(_ context.Context, userID int, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.agents {
		if f.agents[i].ID == id && f.agents[i].UserID == userID {
			f.agents = append(f.agents[:i], f.agents[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeAgents) CountByUser(_ context.Context, userID int) (total, active int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.UserID == userID {
			total++
			if a.Active {
				active++
			}
		}
	}
	return total, active, nil
}

type fakeChannels struct {
	mu       sync.Mutex
	bindings []entities.AgentChannel
	owners   map[string]int // agent id -> user id
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{owners: map[string]int{}}
}

func (f *fakeChannels) Create(_ context.Context, b *entities.AgentChannel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.bindings {
		if existing.Channel != b.Channel || existing.RoutingKey != b.RoutingKey {
			continue
		}
		if f.owners[existing.AgentID] != f.owners[b.AgentID] {
			return repository.ErrRouteTaken
		}
		if existing.AgentID == b.AgentID {
			return repository.ErrDuplicate
		}
	}
	b.ID = uuid.NewString()
	f.bindings = append(f.bindings, *b)
	return nil
}

func (f *fakeChannels) ListByAgent(_ context.Context, agentID string) ([]entities.AgentChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entities.AgentChannel{}
	for _, b := range f.bindings {
		if b.AgentID == agentID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeChannels) Delete(_ context.Context, userID int, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range f.bindings {
		if b.ID == id && f.owners[b.AgentID] == userID {
			f.bindings = append(f.bindings[:i], f.bindings[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeChannels) RouteOwnedBy(_ context.Context, userID int, channel entities.Channel, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bindings {
		if b.Channel == channel && b.RoutingKey == key && f.owners[b.AgentID] == userID {
			return true, nil
		}
	}
	return false, nil
}

// fakeConversations stores transcripts through the JSON codec used by
// the Postgres repository, so reads see exactly what a JSONB column holds.
type fakeConversations struct {
	mu        sync.Mutex
	rows      map[string]*storedConversation
	owners    map[string]int // agent id -> user id
	writes    int
	upsertErr error
	getErr    error
}

type storedConversation struct {
	id        string
	agentID   string
	sessionID string
	raw       []byte
	updatedAt time.Time
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{rows: map[string]*storedConversation{}, owners: map[string]int{}}
}

func (f *fakeConversations) decode(row *storedConversation) (*entities.Conversation, error) {
	messages, err := repository.DecodeTranscript(row.raw)
	if err != nil {
		return nil, err
	}
	return &entities.Conversation{
		ID:        row.id,
		AgentID:   row.agentID,
		SessionID: row.sessionID,
		Messages:  messages,
		UpdatedAt: row.updatedAt,
	}, nil
}

func (f *fakeConversations) Get(_ context.Context, agentID, sessionID string) (*entities.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	row, ok := f.rows[agentID+"|"+sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.decode(row)
}

func (f *fakeConversations) Upsert(_ context.Context, agentID, sessionID string, messages []entities.ChatMessage) (*entities.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	raw, err := repository.EncodeTranscript(messages)
	if err != nil {
		return nil, err
	}
	key := agentID + "|" + sessionID
	row, ok := f.rows[key]
	if !ok {
		row = &storedConversation{id: uuid.NewString(), agentID: agentID, sessionID: sessionID}
		f.rows[key] = row
	}
	row.raw = raw
	row.updatedAt = time.Now()
	f.writes++
	return f.decode(row)
}

func (f *fakeConversations) GetByID(_ context.Context, userID int, id string) (*entities.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.id == id && f.owners[row.agentID] == userID {
			return f.decode(row)
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeConversations) ListByUser(_ context.Context, userID int, agentID string, _ int) ([]entities.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entities.Conversation{}
	for _, row := range f.rows {
		if f.owners[row.agentID] != userID || (agentID != "" && row.agentID != agentID) {
			continue
		}
		c, err := f.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeConversations) CountByUser(ctx context.Context, userID int) (int, error) {
	list, err := f.ListByUser(ctx, userID, "", 0)
	return len(list), err
}

func (f *fakeConversations) messages(agentID, sessionID string) []entities.ChatMessage {
	c, err := f.Get(context.Background(), agentID, sessionID)
	if err != nil {
		return nil
	}
	return c.Messages
}

func (f *fakeConversations) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fakeUsers struct {
	mu     sync.Mutex
	users  map[int]*entities.User
	nextID int
}

func newFakeUsers(users ...entities.User) *fakeUsers {
	f := &fakeUsers{users: map[int]*entities.User{}, nextID: 1}
	for i := range users {
		u := users[i]
		f.users[u.ID] = &u
		if u.ID >= f.nextID {
			f.nextID = u.ID + 1
		}
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id int) (*entities.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUsers) Create(_ context.Context, user *entities.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	user.ID = f.nextID
	user.IsActive = true
	user.CreatedAt = time.Now()
	f.nextID++
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*entities.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) GetAllUsers(_ context.Context) ([]entities.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entities.User{}
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUsers) GetStats(_ context.Context) (*entities.UserStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s entities.UserStats
	for _, u := range f.users {
		s.TotalUsers++
		if u.IsActive {
			s.ActiveUsers++
		}
		if u.Role == "admin" {
			s.AdminCount++
		}
		if u.OpenAIKey != "" {
			s.WithOpenAIKey++
		}
	}
	return &s, nil
}

func (f *fakeUsers) update(id int, fn func(*entities.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	return nil
}

func (f *fakeUsers) UpdateUserStatus(_ context.Context, id int, active bool) error {
	return f.update(id, func(u *entities.User) { u.IsActive = active })
}

func (f *fakeUsers) UpdateUserLimits(_ context.Context, id, daily, monthly int) error {
	return f.update(id, func(u *entities.User) { u.DailyLimit, u.MonthlyLimit = daily, monthly })
}

func (f *fakeUsers) UpdateOpenAIKey(_ context.Context, id int, key string) error {
	return f.update(id, func(u *entities.User) { u.OpenAIKey = key })
}

func (f *fakeUsers) UpdateTelegramToken(_ context.Context, id int, token string) error {
	return f.update(id, func(u *entities.User) { u.TelegramToken = token })
}

type fakeUsage struct {
	mu       sync.Mutex
	sent     map[int]int
	received map[int]int
	allow    bool
	err      error
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{sent: map[int]int{}, received: map[int]int{}, allow: true}
}

func (f *fakeUsage) IncrementSent(_ context.Context, userID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[userID]++
	return nil
}

func (f *fakeUsage) IncrementReceived(_ context.Context, userID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received[userID]++
	return nil
}

func (f *fakeUsage) CanSendMessage(context.Context, int, int, int) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, "", f.err
	}
	if !f.allow {
		return false, "daily limit reached", nil
	}
	return true, "", nil
}

func (f *fakeUsage) GetTodayUsage(_ context.Context, userID int) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[userID], f.received[userID], nil
}

func (f *fakeUsage) GetQuotaStatus(_ context.Context, userID int, daily, monthly int) (*repository.UserQuotaStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return repository.BuildQuotaStatus(f.sent[userID], f.sent[userID], daily, monthly), nil
}

type fakeCompleter struct {
	mu       sync.Mutex
	requests []entities.CompletionRequest
	reply    func(req entities.CompletionRequest) (string, error)
}

func replyWith(text string) *fakeCompleter {
	return &fakeCompleter{reply: func(entities.CompletionRequest) (string, error) { return text, nil }}
}

func failWith(err error) *fakeCompleter {
	return &fakeCompleter{reply: func(entities.CompletionRequest) (string, error) { return "", err }}
}

func (f *fakeCompleter) Complete(_ context.Context, req entities.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.reply(req)
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCompleter) last() entities.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeSender struct {
	mu   sync.Mutex
	sent []entities.OutboundMessage
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, msg entities.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func (f *fakeSender) messages() []entities.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entities.OutboundMessage(nil), f.sent...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []entities.ConversationEvent
}

func (f *fakeEvents) Publish(_ context.Context, evt entities.ConversationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeEvents) published() []entities.ConversationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entities.ConversationEvent(nil), f.events...)
}

type fakeLeads struct {
	mu       sync.Mutex
	leads    []entities.Lead
	batchErr error
}

func (f *fakeLeads) FindByContact(_ context.Context, userID int, phone, email string) (*entities.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leads {
		if l.UserID != userID {
			continue
		}
		if (phone != "" && l.Phone == phone) || (email != "" && strings.EqualFold(l.Email, email)) {
			found := l
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeLeads) Create(_ context.Context, l *entities.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = uuid.NewString()
	f.leads = append(f.leads, *l)
	return nil
}

func (f *fakeLeads) Update(_ context.Context, l *entities.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.leads {
		if f.leads[i].ID == l.ID && f.leads[i].UserID == l.UserID {
			f.leads[i] = *l
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeLeads) Get(_ context.Context, userID int, id string) (*entities.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leads {
		if l.ID == id && l.UserID == userID {
			found := l
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeLeads) List(_ context.Context, userID int, stageID string) ([]entities.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entities.Lead{}
	for _, l := range f.leads {
		if l.UserID == userID && (stageID == "" || l.StageID == stageID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLeads) MoveToStage(_ context.Context, userID int, id, stageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.leads {
		if f.leads[i].ID == id && f.leads[i].UserID == userID {
			f.leads[i].StageID = stageID
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeLeads) Confirm(_ context.Context, userID int, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.leads {
		if f.leads[i].ID == id && f.leads[i].UserID == userID {
			f.leads[i].Confirmed = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeLeads) Delete(_ context.Context, userID int, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.leads {
		if f.leads[i].ID == id && f.leads[i].UserID == userID {
			f.leads = append(f.leads[:i], f.leads[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeLeads) CreateBatch(_ context.Context, leads []entities.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	for i := range leads {
		leads[i].ID = uuid.NewString()
		f.leads = append(f.leads, leads[i])
	}
	return nil
}

func (f *fakeLeads) CountByStage(_ context.Context, userID int) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, l := range f.leads {
		if l.UserID == userID {
			counts[l.StageID]++
		}
	}
	return counts, nil
}

func (f *fakeLeads) all() []entities.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entities.Lead(nil), f.leads...)
}

type fakeStages struct {
	mu           sync.Mutex
	stages       []entities.PipelineStage
	lastFallback string
}

func (f *fakeStages) List(_ context.Context, userID int) ([]entities.PipelineStage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entities.PipelineStage{}
	for _, s := range f.stages {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeStages) Create(_ context.Context, s *entities.PipelineStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := 0
	for _, existing := range f.stages {
		if existing.UserID == s.UserID && existing.Position >= next {
			next = existing.Position + 1
		}
	}
	s.ID = uuid.NewString()
	s.Position = next
	f.stages = append(f.stages, *s)
	return nil
}

func (f *fakeStages) Update(_ context.Context, s *entities.PipelineStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.stages {
		if f.stages[i].ID == s.ID && f.stages[i].UserID == s.UserID {
			f.stages[i].Name = s.Name
			f.stages[i].Color = s.Color
			s.Position = f.stages[i].Position
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeStages) SavePositions(_ context.Context, userID int, stages []entities.PipelineStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range stages {
		found := false
		for i := range f.stages {
			if f.stages[i].ID == s.ID && f.stages[i].UserID == userID {
				f.stages[i].Position = s.Position
				found = true
			}
		}
		if !found {
			return fmt.Errorf("stage %s: %w", s.ID, repository.ErrNotFound)
		}
	}
	return nil
}

// Delete records the fallback stage leads would be moved to
func (f *fakeStages) Delete(_ context.Context, userID int, id, fallbackID string, remaining []entities.PipelineStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := -1
	for i := range f.stages {
		if f.stages[i].ID == id && f.stages[i].UserID == userID {
			idx = i
		}
	}
	if idx < 0 {
		return repository.ErrNotFound
	}
	f.stages = append(f.stages[:idx], f.stages[idx+1:]...)
	for _, r := range remaining {
		for i := range f.stages {
			if f.stages[i].ID == r.ID {
				f.stages[i].Position = r.Position
			}
		}
	}
	f.lastFallback = fallbackID
	return nil
}
