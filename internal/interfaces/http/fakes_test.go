package http

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"converta/internal/entities"
	"converta/internal/repository"
)

type memAgents struct {
	mu       sync.Mutex
	agents   map[string]entities.Agent
	bindings map[string][]string // channel|key -> agent ids
	seq      int
}

func newMemAgents(agents ...entities.Agent) *memAgents {
	m := &memAgents{agents: map[string]entities.Agent{}, bindings: map[string][]string{}}
	for _, a := range agents {
		m.agents[a.ID] = a
	}
	return m
}

func (m *memAgents) bind(ch entities.Channel, key, agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(ch) + "|" + key
	m.bindings[k] = append(m.bindings[k], agentID)
}

func (m *memAgents) ListActiveByOwner(_ context.Context, userID int, ch entities.Channel) ([]entities.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.Agent
	for _, a := range m.agents {
		if a.UserID == userID && a.Channel == ch && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAgents) ListActiveByBinding(_ context.Context, ch entities.Channel, key string) ([]entities.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.Agent
	for _, id := range m.bindings[string(ch)+"|"+key] {
		if a, ok := m.agents[id]; ok && a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAgents) Create(_ context.Context, a *entities.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	a.ID = fmt.Sprintf("agent-%d", m.seq)
	a.CreatedAt = time.Now()
	m.agents[a.ID] = *a
	return nil
}

func (m *memAgents) Get(_ context.Context, userID int, id string) (*entities.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (m *memAgents) ListByUser(_ context.Context, userID int) ([]entities.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entities.Agent{}
	for _, a := range m.agents {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memAgents) Update(_ context.Context, a *entities.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = *a
	return nil
}

func (m *memAgents) SetActive(_ context.Context, userID int, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.UserID != userID {
		return repository.ErrNotFound
	}
	a.Active = active
	m.agents[id] = a
	return nil
}

func (m *memAgents) Delete(_ context.Context, userID int, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[id]; !ok || a.UserID != userID {
		return repository.ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

func (m *memAgents) CountByUser(_ context.Context, userID int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total, active int
	for _, a := range m.agents {
		if a.UserID == userID {
			total++
			if a.Active {
				active++
			}
		}
	}
	return total, active, nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[int]*entities.User
	seq   int
}

func newMemUsers(users ...entities.User) *memUsers {
	m := &memUsers{users: map[int]*entities.User{}, seq: 100}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *memUsers) GetByID(_ context.Context, id int) (*entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Create(_ context.Context, u *entities.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	u.ID = m.seq
	u.IsActive = true
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByUsername(_ context.Context, name string) (*entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetAllUsers(context.Context) ([]entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memUsers) GetStats(context.Context) (*entities.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &entities.UserStats{TotalUsers: len(m.users)}
	for _, u := range m.users {
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
	return s, nil
}

func (m *memUsers) update(id int, fn func(*entities.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	return nil
}

func (m *memUsers) UpdateUserStatus(_ context.Context, id int, active bool) error {
	return m.update(id, func(u *entities.User) { u.IsActive = active })
}

func (m *memUsers) UpdateUserLimits(_ context.Context, id, daily, monthly int) error {
	return m.update(id, func(u *entities.User) { u.DailyLimit, u.MonthlyLimit = daily, monthly })
}

func (m *memUsers) UpdateOpenAIKey(_ context.Context, id int, key string) error {
	return m.update(id, func(u *entities.User) { u.OpenAIKey = key })
}

func (m *memUsers) UpdateTelegramToken(_ context.Context, id int, token string) error {
	return m.update(id, func(u *entities.User) { u.TelegramToken = token })
}

// memConversations serves both the relay and the dashboard read side
type memConversations struct {
	mu        sync.Mutex
	convs     map[string]*entities.Conversation // agent|session
	upsertErr error
}

func newMemConversations() *memConversations {
	return &memConversations{convs: map[string]*entities.Conversation{}}
}

func (m *memConversations) Get(_ context.Context, agentID, sessionID string) (*entities.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[agentID+"|"+sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) Upsert(_ context.Context, agentID, sessionID string, msgs []entities.ChatMessage) (*entities.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	key := agentID + "|" + sessionID
	c, ok := m.convs[key]
	if !ok {
		c = &entities.Conversation{ID: fmt.Sprintf("conv-%d", len(m.convs)+1), AgentID: agentID, SessionID: sessionID}
		m.convs[key] = c
	}
	c.Messages = msgs
	cp := *c
	return &cp, nil
}

func (m *memConversations) GetByID(_ context.Context, _ int, id string) (*entities.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.convs {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memConversations) ListByUser(context.Context, int, string, int) ([]entities.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entities.Conversation{}
	for _, c := range m.convs {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memConversations) CountByUser(context.Context, int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs), nil
}

func (m *memConversations) messages(agentID, sessionID string) []entities.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[agentID+"|"+sessionID]; ok {
		return c.Messages
	}
	return nil
}

type memChannels struct {
	mu     sync.Mutex
	rows   []entities.AgentChannel
	owners map[string]int // routing key -> owner
	agents *memAgents
}

func (m *memChannels) agentOwner(agentID string) int {
	if m.agents == nil {
		return 0
	}
	m.agents.mu.Lock()
	defer m.agents.mu.Unlock()
	return m.agents.agents[agentID].UserID
}

func (m *memChannels) Create(_ context.Context, b *entities.AgentChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner := m.agentOwner(b.AgentID)
	if held, ok := m.owners[b.RoutingKey]; ok && held != owner {
		return repository.ErrRouteTaken
	}
	if m.owners == nil {
		m.owners = map[string]int{}
	}
	m.owners[b.RoutingKey] = owner
	b.ID = fmt.Sprintf("ch-%d", len(m.rows)+1)
	m.rows = append(m.rows, *b)
	return nil
}

func (m *memChannels) ListByAgent(_ context.Context, agentID string) ([]entities.AgentChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entities.AgentChannel{}
	for _, r := range m.rows {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memChannels) Delete(context.Context, int, string) error { return repository.ErrNotFound }

func (m *memChannels) RouteOwnedBy(_ context.Context, userID int, _ entities.Channel, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[key] == userID, nil
}

type memStages struct {
	mu     sync.Mutex
	stages []entities.PipelineStage
}

func (m *memStages) List(_ context.Context, userID int) ([]entities.PipelineStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.PipelineStage
	for _, s := range m.stages {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStages) Create(_ context.Context, s *entities.PipelineStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = fmt.Sprintf("stage-%d", len(m.stages)+1)
	n := 0
	for _, x := range m.stages {
		if x.UserID == s.UserID {
			n++
		}
	}
	s.Position = n
	m.stages = append(m.stages, *s)
	return nil
}

func (m *memStages) Update(_ context.Context, s *entities.PipelineStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.stages {
		if m.stages[i].ID == s.ID && m.stages[i].UserID == s.UserID {
			m.stages[i].Name, m.stages[i].Color = s.Name, s.Color
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStages) SavePositions(_ context.Context, _ int, stages []entities.PipelineStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stages {
		for i := range m.stages {
			if m.stages[i].ID == s.ID {
				m.stages[i].Position = s.Position
			}
		}
	}
	return nil
}

func (m *memStages) Delete(context.Context, int, string, string, []entities.PipelineStage) error {
	return errors.New("not supported")
}

type memLeads struct {
	mu    sync.Mutex
	leads []entities.Lead
}

func (m *memLeads) FindByContact(context.Context, int, string, string) (*entities.Lead, error) {
	return nil, repository.ErrNotFound
}

func (m *memLeads) Create(_ context.Context, l *entities.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = fmt.Sprintf("lead-%d", len(m.leads)+1)
	m.leads = append(m.leads, *l)
	return nil
}

func (m *memLeads) Update(context.Context, *entities.Lead) error { return nil }

func (m *memLeads) Get(context.Context, int, string) (*entities.Lead, error) {
	return nil, repository.ErrNotFound
}

func (m *memLeads) List(_ context.Context, userID int, _ string) ([]entities.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []entities.Lead{}
	for _, l := range m.leads {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLeads) MoveToStage(context.Context, int, string, string) error { return nil }
func (m *memLeads) Confirm(context.Context, int, string) error             { return nil }
func (m *memLeads) Delete(context.Context, int, string) error              { return repository.ErrNotFound }

func (m *memLeads) CreateBatch(ctx context.Context, leads []entities.Lead) error {
	for i := range leads {
		if err := m.Create(ctx, &leads[i]); err != nil {
			return err
		}
	}
	return nil
}

type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) Complete(context.Context, entities.CompletionRequest) (string, error) {
	return s.reply, s.err
}

type recordingSender struct {
	mu   sync.Mutex
	sent []entities.OutboundMessage
}

func (r *recordingSender) SendMessage(_ context.Context, msg entities.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) messages() []entities.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.OutboundMessage(nil), r.sent...)
}
