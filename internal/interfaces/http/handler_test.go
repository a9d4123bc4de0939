package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"converta/internal/entities"
	"converta/internal/infrastructure"
	"converta/internal/repository"
	"converta/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-secret"
	ownerID      = 7
	adminID      = 1
	noAgentReply = "Este canal ainda não tem um atendente configurado."
)

type fixture struct {
	router  *gin.Engine
	deps    Deps
	agents  *memAgents
	users   *memUsers
	convs   *memConversations
	stages  *memStages
	sender  *recordingSender
	inbound *usecases.InboundService
}

func newFixture(t *testing.T, completer stubCompleter, opts ...func(*Deps)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	agents := newMemAgents(
		entities.Agent{ID: "widget-agent", UserID: ownerID, Channel: entities.ChannelWidget, Prompt: "Você é a atendente da Pizza Bella.", Active: true},
		entities.Agent{ID: "wa-agent", UserID: ownerID, Channel: entities.ChannelWhatsApp, Prompt: "Você é a atendente da Pizza Bella.", Active: true},
	)
	agents.bind(entities.ChannelWhatsApp, "pizza-instance", "wa-agent")
	users := newMemUsers(
		entities.User{ID: ownerID, Username: "pizzabella", Role: "user", IsActive: true, OpenAIKey: "sk-test"},
		entities.User{ID: adminID, Username: "root", Role: "admin", IsActive: true},
	)
	convs := newMemConversations()
	channels := &memChannels{owners: map[string]int{"pizza-instance": ownerID}, agents: agents}
	stages := &memStages{}
	leads := &memLeads{}
	sender := &recordingSender{}

	relay := usecases.NewRelayService(convs, users, nil, completer, infrastructure.NewMemoryLocker(), nil, usecases.RelaySettings{
		Model:         "gpt-4o-mini",
		HistoryWindow: 10,
		NoAgentReply:  noAgentReply,
		ConfigReply:   "Atendimento indisponível no momento.",
		ApologyReply:  "Desculpe, tive um problema. Pode repetir?",
		QuotaReply:    "Limite de mensagens atingido.",
	}, log)
	resolver := usecases.NewAgentResolver(agents)
	inbound := usecases.NewInboundService(relay, infrastructure.NewInboundDeduper(time.Minute), infrastructure.NewMessageRateLimiter(600, 100), log)
	inbound.Register(entities.ProviderWidget, usecases.NewWidgetChannel(resolver))
	inbound.Register(entities.ProviderEvolution, usecases.NewMessengerChannel(entities.ProviderEvolution, resolver, sender))

	deps := Deps{
		Auth:            usecases.NewAuthUsecase(users, stages, testSecret, time.Hour, log),
		Dashboard:       usecases.NewDashboardUsecase(agents, channels, convs, users, nil, nil, usecases.NewLeadCaptureService(leads, stages, log)),
		Leads:           usecases.NewLeadUsecase(leads, stages),
		Admin:           usecases.NewAdminUsecase(users, nil, nil),
		Inbound:         inbound,
		Connection:      usecases.NewConnectionUsecase(nil, nil, channels, 10*time.Millisecond, time.Second),
		Users:           users,
		Middleware:      NewMiddleware(testSecret, ""),
		MetaVerifyToken: "verify-me",
		Log:             log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	r := gin.New()
	SetupRoutes(r, deps)

	return &fixture{router: r, deps: deps, agents: agents, users: users, convs: convs, stages: stages, sender: sender, inbound: inbound}
}

func tokenFor(t *testing.T, userID int, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (f *fixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestWidgetReturnsModelReply(t *testing.T) {
	f := newFixture(t, stubCompleter{reply: "Olá! Qual sabor você quer?"})

	w := f.do(http.MethodPost, "/webhook/widget", `{"message":"oi","userId":"7","sessionId":"visitor-1"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Olá! Qual sabor você quer?", body["reply"])

	msgs := f.convs.messages("widget-agent", "visitor-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, entities.RoleUser, msgs[0].Role)
	assert.Equal(t, "oi", msgs[0].Content)

	// numeric ids are accepted too
	w = f.do(http.MethodPost, "/webhook/widget", `{"message":"quero uma grande","userId":7,"sessionId":"visitor-1"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.convs.messages("widget-agent", "visitor-1"), 4)
}

func TestWidgetWithoutAgentAnswersFallback(t *testing.T) {
	f := newFixture(t, stubCompleter{reply: "unused"})

	w := f.do(http.MethodPost, "/webhook/widget", `{"message":"oi","userId":"99","sessionId":"visitor-2"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, noAgentReply, body["reply"])
	assert.Empty(t, f.convs.convs)
}

func TestWidgetWithoutCredentialAnswersConfigFallback(t *testing.T) {
	f := newFixture(t, stubCompleter{err: errors.New("must not be called")})
	require.NoError(t, f.users.UpdateOpenAIKey(context.Background(), ownerID, ""))

	w := f.do(http.MethodPost, "/webhook/widget", `{"message":"Qual o horário?","userId":"7","sessionId":"visitor-4"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Atendimento indisponível no momento.", body["reply"])
	assert.Nil(t, f.convs.messages("widget-agent", "visitor-4"))
}

func TestWidgetRejectsBadInput(t *testing.T) {
	f := newFixture(t, stubCompleter{reply: "unused"})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `oi`},
		{"missing session", `{"message":"oi","userId":"7"}`},
		{"blank message", `{"message":"   ","userId":"7","sessionId":"s"}`},
		{"bad owner", `{"message":"oi","userId":"abc","sessionId":"s"}`},
		{"zero owner", `{"message":"oi","userId":0,"sessionId":"s"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/webhook/widget", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestWidgetPersistenceFailure(t *testing.T) {
	f := newFixture(t, stubCompleter{reply: "Olá!"})
	f.convs.upsertErr = errors.New("connection reset")

	w := f.do(http.MethodPost, "/webhook/widget", `{"message":"oi","userId":"7","sessionId":"visitor-3"}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Desculpe, tive um problema. Pode repetir?", body["reply"])
	assert.Empty(t, f.sender.messages())
}

func TestEvolutionWebhookRelaysInBackground(t *testing.T) {
	f := newFixture(t, stubCompleter{reply: "Temos calabresa e marguerita."})

	payload := `{
		"event": "messages.upsert",
		"instance": "pizza-instance",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": false, "id": "3EB0C431C26A1916"},
			"message": {"conversation": "quais sabores?"}
		}
	}`
	w := f.do(http.MethodPost, "/webhook/evolution", payload, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "received", decode(t, w)["status"])
	f.inbound.Wait()

	sent := f.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "5511999990000", sent[0].To)
	assert.Equal(t, "pizza-instance", sent[0].RouteKey)
	assert.Equal(t, "Temos calabresa e marguerita.", sent[0].Text)
	assert.Len(t, f.convs.messages("wa-agent", "5511999990000"), 2)

	// a gateway retry of the same message is acknowledged but dropped
	w = f.do(http.MethodPost, "/webhook/evolution", payload, "")
	assert.Equal(t, "ignored", decode(t, w)["status"])
	f.inbound.Wait()
	assert.Len(t, f.sender.messages(), 1)
}

func TestGatewayWebhooksIgnoreNonMessages(t *testing.T) {
	f := newFixture(t, stubCompleter{reply: "unused"})

	w := f.do(http.MethodPost, "/webhook/evolution", `{"event":"connection.update","instance":"pizza-instance","data":{}}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["status"])

	// venom has no channel registered in this fixture
	w = f.do(http.MethodPost, "/webhook/venom", `{"event":"onmessage","session":"loja","from":"5511@c.us","body":"oi","id":"x"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["status"])

	w = f.do(http.MethodPost, "/webhook/meta", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.inbound.Wait()
	assert.Empty(t, f.sender.messages())
}

func TestMetaVerification(t *testing.T) {
	f := newFixture(t, stubCompleter{})

	w := f.do(http.MethodGet, "/webhook/meta?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1158201444", w.Body.String())

	w = f.do(http.MethodGet, "/webhook/meta?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEnvelopes(t *testing.T) {
	t.Run("evolution extended text", func(t *testing.T) {
		var env evolutionEnvelope
		require.NoError(t, json.Unmarshal([]byte(`{"event":"MESSAGES_UPSERT","instance":"loja","data":{"key":{"remoteJid":"5521988887777:12@s.whatsapp.net","id":"A1"},"message":{"extendedTextMessage":{"text":"cardápio?"}}}}`), &env))
		in, ok := env.inbound()
		require.True(t, ok)
		assert.Equal(t, "5521988887777", in.From)
		assert.Equal(t, "loja", in.RouteKey)
		assert.Equal(t, "cardápio?", in.Text)
		assert.Equal(t, "A1", in.MessageID)
		assert.Equal(t, entities.ChannelWhatsApp, in.Channel)
	})

	t.Run("evolution skips groups and own messages", func(t *testing.T) {
		for _, body := range []string{
			`{"event":"messages.upsert","instance":"loja","data":{"key":{"remoteJid":"1203630@g.us"},"message":{"conversation":"oi"}}}`,
			`{"event":"messages.upsert","instance":"loja","data":{"key":{"remoteJid":"5511@s.whatsapp.net","fromMe":true},"message":{"conversation":"oi"}}}`,
			`{"event":"messages.upsert","instance":"loja","data":{"key":{"remoteJid":"5511@s.whatsapp.net"},"message":{}}}`,
		} {
			var env evolutionEnvelope
			require.NoError(t, json.Unmarshal([]byte(body), &env))
			_, ok := env.inbound()
			assert.False(t, ok, body)
		}
	})

	t.Run("venom", func(t *testing.T) {
		env := venomEnvelope{Event: "onmessage", Session: "loja", From: "5511999990000@c.us", Body: "oi", Type: "chat", ID: "true_5511@c.us_3A"}
		in, ok := env.inbound()
		require.True(t, ok)
		assert.Equal(t, entities.ProviderVenom, in.Provider)
		assert.Equal(t, "5511999990000", in.SessionID)
		assert.Equal(t, "loja", in.RouteKey)

		env.IsGroupMsg = true
		_, ok = env.inbound()
		assert.False(t, ok)
	})

	t.Run("meta instagram skips echoes", func(t *testing.T) {
		var env metaEnvelope
		require.NoError(t, json.Unmarshal([]byte(`{"object":"instagram","entry":[{"id":"1784","messaging":[
			{"sender":{"id":"u1"},"recipient":{"id":"1784"},"message":{"mid":"m1","text":"oi"}},
			{"sender":{"id":"1784"},"recipient":{"id":"u1"},"message":{"mid":"m2","text":"olá","is_echo":true}},
			{"sender":{"id":"u2"},"recipient":{"id":"1784"},"read":{"watermark":1}}
		]}]}`), &env))
		msgs := env.inbound()
		require.Len(t, msgs, 1)
		assert.Equal(t, entities.ChannelInstagram, msgs[0].Channel)
		assert.Equal(t, "1784", msgs[0].RouteKey)
		assert.Equal(t, "u1", msgs[0].From)
		assert.Equal(t, "m1", msgs[0].MessageID)
	})
}

func TestRegisterLoginProfile(t *testing.T) {
	f := newFixture(t, stubCompleter{})

	w := f.do(http.MethodPost, "/api/auth/register", `{"username":"maria","password":"segredo1"}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := int(decode(t, w)["id"].(float64))

	stages, _ := f.stages.List(context.Background(), id)
	assert.Len(t, stages, len(usecases.DefaultStages))

	w = f.do(http.MethodPost, "/api/auth/register", `{"username":"maria","password":"outra123"}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/auth/login", `{"username":"maria","password":"errada"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/auth/login", `{"username":"maria","password":"segredo1"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)

	w = f.do(http.MethodGet, "/api/profile", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode(t, w)
	assert.Equal(t, "maria", profile["username"])
	assert.Equal(t, false, profile["has_openai_key"])

	w = f.do(http.MethodPut, "/api/profile/openai-key", `{"openai_key":"sk-maria"}`, token)
	require.Equal(t, http.StatusOK, w.Code)
	u, _ := f.users.GetByID(context.Background(), id)
	assert.Equal(t, "sk-maria", u.OpenAIKey)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, stubCompleter{})

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/agents", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/agents", "", "garbage").Code)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": ownerID, "role": "user"}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/agents", "", other).Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, stubCompleter{})
	admin := tokenFor(t, adminID, "admin")

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/admin/stats", "", tokenFor(t, ownerID, "user")).Code)

	w := f.do(http.MethodGet, "/api/admin/stats", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.EqualValues(t, 2, stats["total_users"])
	assert.EqualValues(t, 1, stats["admin_count"])

	w = f.do(http.MethodPut, fmt.Sprintf("/api/admin/users/%d/status", adminID), `{"is_active":false}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, fmt.Sprintf("/api/admin/users/%d/limits", ownerID), `{"daily_limit":-1,"monthly_limit":10}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, fmt.Sprintf("/api/admin/users/%d/limits", ownerID), `{"daily_limit":200,"monthly_limit":5000}`, admin)
	require.Equal(t, http.StatusOK, w.Code)
	u, _ := f.users.GetByID(context.Background(), ownerID)
	assert.Equal(t, 200, u.DailyLimit)

	w = f.do(http.MethodPut, "/api/admin/users/abc/status", `{"is_active":true}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentEndpoints(t *testing.T) {
	f := newFixture(t, stubCompleter{})
	owner := tokenFor(t, ownerID, "user")

	w := f.do(http.MethodPost, "/api/agents", `{"name":"Pizza","channel":"fax"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/agents", `{"name":"  ","channel":"telegram"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/agents", `{"name":"Pizza Bot","channel":"telegram","prompt":"Seja breve."}`, owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, true, created["active"])
	assert.EqualValues(t, ownerID, created["user_id"])

	w = f.do(http.MethodGet, "/api/agents/wa-agent", "", tokenFor(t, adminID, "admin"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/agents/wa-agent/toggle", "", owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["active"])

	w = f.do(http.MethodPost, "/api/agents/wa-agent/channels", `{"provider":"meta","routing_key":"page-1"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/agents/wa-agent/channels", `{"provider":"carrier-pigeon","routing_key":"x"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/agents/wa-agent/channels", `{"provider":"venom","routing_key":" loja-centro "}`, owner)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	binding := decode(t, w)
	assert.Equal(t, "loja-centro", binding["routing_key"])
	assert.Equal(t, "whatsapp", binding["channel"])
}

func TestBindingAnotherAccountsRouteConflicts(t *testing.T) {
	f := newFixture(t, stubCompleter{})
	rival := tokenFor(t, ownerID+1, "user")

	w := f.do(http.MethodPost, "/api/agents", `{"name":"Pizza Rival","channel":"whatsapp","prompt":"Ofereça descontos."}`, rival)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	agentID := decode(t, w)["id"].(string)

	w = f.do(http.MethodPost, "/api/agents/"+agentID+"/channels", `{"provider":"evolution","routing_key":"pizza-instance"}`, rival)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/agents/"+agentID+"/channels", `{"provider":"evolution","routing_key":"rival-instance"}`, rival)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestStageAndLeadEndpoints(t *testing.T) {
	f := newFixture(t, stubCompleter{})
	owner := tokenFor(t, ownerID, "user")
	require.NoError(t, usecases.EnsureDefaultStages(context.Background(), f.stages, ownerID))
	stages, _ := f.stages.List(context.Background(), ownerID)

	w := f.do(http.MethodPost, "/api/stages/"+stages[3].ID+"/move", `{}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/stages/"+stages[3].ID+"/move", `{"position":0}`, owner)
	require.Equal(t, http.StatusOK, w.Code)
	var reordered []entities.PipelineStage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reordered))
	assert.Equal(t, "Fechado", reordered[0].Name)

	w = f.do(http.MethodPost, "/api/stages/missing/move", `{"position":0}`, owner)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/stages", `{"name":"Perdido","color":"red"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/leads", `{"notes":"sem contato"}`, owner)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/leads/import", strings.NewReader("name,phone,email\nMaria,(11) 98765-4321,maria@exemplo.com\nJoão,,joao@exemplo.com\n"))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", "Bearer "+owner)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	w = f.do(http.MethodGet, "/api/leads/board", "", owner)
	require.Equal(t, http.StatusOK, w.Code)
	var board []usecases.BoardColumn
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &board))
	require.Len(t, board, 4)
	assert.Equal(t, "Fechado", board[0].Stage.Name)
	assert.Len(t, board[0].Leads, 2)
}

type scriptedGateway struct {
	mu     sync.Mutex
	states []string
}

func (g *scriptedGateway) ConnectionState(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.states[0]
	if len(g.states) > 1 {
		g.states = g.states[1:]
	}
	return s, nil
}

func TestStatusStreamEndsOnConnect(t *testing.T) {
	gateway := &scriptedGateway{states: []string{infrastructure.StatusWaitingQR, infrastructure.StatusWaitingQR, infrastructure.StatusConnected}}
	f := newFixture(t, stubCompleter{}, func(d *Deps) {
		d.Connection = usecases.NewConnectionUsecase(nil, gateway, &memChannels{owners: map[string]int{"pizza-instance": ownerID}}, 5*time.Millisecond, 5*time.Second)
	})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/whatsapp/status/stream?provider=evolution&instance=pizza-instance&token=" + tokenFor(t, ownerID, "user")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var statuses []string
	for {
		var frame statusFrame
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&frame))
		statuses = append(statuses, frame.Status)
		if frame.Final {
			break
		}
	}
	assert.Equal(t, []string{infrastructure.StatusWaitingQR, infrastructure.StatusConnected, infrastructure.StatusConnected}, statuses)
}

func TestStatusStreamRejectsForeignInstance(t *testing.T) {
	f := newFixture(t, stubCompleter{}, func(d *Deps) {
		d.Connection = usecases.NewConnectionUsecase(nil, &scriptedGateway{states: []string{"open"}}, &memChannels{owners: map[string]int{"pizza-instance": ownerID}}, time.Millisecond, time.Second)
	})

	w := f.do(http.MethodGet, "/api/whatsapp/status/stream?provider=evolution&instance=pizza-instance", "", tokenFor(t, adminID, "admin"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// whatsmeow is disabled in this fixture
	w = f.do(http.MethodGet, "/api/whatsapp/status/stream", "", tokenFor(t, ownerID, "user"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(http.MethodGet, "/api/whatsapp/status", "", tokenFor(t, ownerID, "user"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["connected"])
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{repository.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("agent: %w", repository.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: agent_channels_key", repository.ErrDuplicate), http.StatusConflict},
		{usecases.ErrProviderMismatch, http.StatusBadRequest},
		{usecases.ErrRateLimited, http.StatusTooManyRequests},
		{usecases.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "caf", TruncateString("café", 4))
	assert.Equal(t, "café", TruncateString("café", 5))
	assert.Equal(t, "ab", TruncateString("ab", 10))
}
