package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mkarlin/llm-playground/internal/auth"
	"github.com/mkarlin/llm-playground/internal/conversations"
	"github.com/mkarlin/llm-playground/internal/llm"
	"github.com/mkarlin/llm-playground/internal/models"
	"github.com/mkarlin/llm-playground/internal/store"
)

type memUsers struct {
	byName map[string]models.User
	byID   map[string]models.User
}

func newMemUsers() *memUsers {
	return &memUsers{byName: make(map[string]models.User), byID: make(map[string]models.User)}
}

func (m *memUsers) Create(_ context.Context, user models.User) (models.User, error) {
	if _, exists := m.byName[user.Username]; exists {
		return models.User{}, store.ErrUsernameTaken
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	m.byName[user.Username] = user
	m.byID[user.ID] = user
	return user, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	user, ok := m.byName[username]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	user, ok := m.byID[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

type memConversations struct {
	seq   int64
	convs []*models.Conversation
}

func (m *memConversations) find(id string) *models.Conversation {
	for _, conv := range m.convs {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

func (m *memConversations) ListByUser(_ context.Context, userID string) ([]models.Conversation, error) {
	result := make([]models.Conversation, 0)
	for _, conv := range m.convs {
		if conv.UserID == userID {
			result = append(result, *conv)
		}
	}
	return result, nil
}

func (m *memConversations) Create(_ context.Context, conv models.Conversation) (models.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	for i := range conv.Messages {
		m.seq++
		conv.Messages[i].ID = uuid.NewString()
		conv.Messages[i].Seq = m.seq
		conv.Messages[i].ConversationID = conv.ID
	}
	stored := conv
	m.convs = append(m.convs, &stored)
	return conv, nil
}

func (m *memConversations) AppendMessage(_ context.Context, userID, conversationID string, msg models.Message) (models.Message, error) {
	conv := m.find(conversationID)
	if conv == nil || conv.UserID != userID {
		return models.Message{}, store.ErrConversationNotFound
	}
	m.seq++
	msg.ID = uuid.NewString()
	msg.Seq = m.seq
	msg.ConversationID = conversationID
	conv.Messages = append(conv.Messages, msg)
	return msg, nil
}

func (m *memConversations) Delete(_ context.Context, userID, conversationID string) error {
	for i, conv := range m.convs {
		if conv.ID == conversationID && conv.UserID == userID {
			m.convs = append(m.convs[:i], m.convs[i+1:]...)
			return nil
		}
	}
	return store.ErrConversationNotFound
}

func (m *memConversations) Fork(_ context.Context, userID, conversationID string, forkIndex int) (models.Conversation, error) {
	source := m.find(conversationID)
	if source == nil {
		return models.Conversation{}, store.ErrConversationNotFound
	}

	end := forkIndex + 1
	if end > len(source.Messages) {
		end = len(source.Messages)
	}

	fork := models.Conversation{
		ID:     uuid.NewString(),
		Title:  "Fork of: " + source.Title,
		UserID: userID,
	}
	for _, msg := range source.Messages[:end] {
		m.seq++
		fork.Messages = append(fork.Messages, models.Message{
			ID:             uuid.NewString(),
			Seq:            m.seq,
			Role:           msg.Role,
			Content:        msg.Content,
			Model:          msg.Model,
			ConversationID: fork.ID,
		})
	}

	stored := fork
	m.convs = append(m.convs, &stored)
	return fork, nil
}

type memPrompts struct {
	prompts []models.Prompt
}

func (m *memPrompts) ListByUser(_ context.Context, userID string) ([]models.Prompt, error) {
	result := make([]models.Prompt, 0)
	for _, prompt := range m.prompts {
		if prompt.UserID == userID {
			result = append(result, prompt)
		}
	}
	return result, nil
}

func (m *memPrompts) Create(_ context.Context, prompt models.Prompt) (models.Prompt, error) {
	prompt.ID = uuid.NewString()
	m.prompts = append(m.prompts, prompt)
	return prompt, nil
}

func (m *memPrompts) Delete(_ context.Context, userID, promptID string) error {
	for i, prompt := range m.prompts {
		if prompt.ID == promptID && prompt.UserID == userID {
			m.prompts = append(m.prompts[:i], m.prompts[i+1:]...)
			return nil
		}
	}
	return store.ErrPromptNotFound
}

type stubGenerator struct {
	reply string
	err   error
	calls int
}

func (g *stubGenerator) Generate(context.Context, string, string, string, []llm.Message, llm.Settings) (string, error) {
	g.calls++
	return g.reply, g.err
}

type testEnv struct {
	router    *gin.Engine
	generator *stubGenerator
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authService, err := auth.NewService(newMemUsers(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	generator := &stubGenerator{reply: "Generated Title"}
	convService := conversations.NewService(&memConversations{}, llm.NewTitleSynthesizer(generator), nil)

	handler := NewHandler(Deps{
		Auth:          authService,
		Conversations: convService,
		Prompts:       &memPrompts{},
		Gateway:       generator,
	})

	router := gin.New()
	handler.RegisterRoutes(router)

	return &testEnv{router: router, generator: generator}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) registerAndLogin(t *testing.T, username string) string {
	t.Helper()

	creds := map[string]string{"username": username, "password": "s3cret!"}
	if rec := e.do(t, http.MethodPost, "/auth/register", "", creds); rec.Code != http.StatusCreated {
		t.Fatalf("register: expected status 201, got %d: %s", rec.Code, rec.Body)
	}

	rec := e.do(t, http.MethodPost, "/auth/login", "", creds)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected status 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp.Token == "" {
		t.Fatalf("expected token in login response")
	}
	return resp.Token
}

func decodeBody(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to decode response %q: %v", data, err)
	}
}

func TestRegisterDuplicateUsernameConflicts(t *testing.T) {
	env := setupTestRouter(t)

	creds := map[string]string{"username": "alice", "password": "pw"}
	if rec := env.do(t, http.MethodPost, "/auth/register", "", creds); rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/auth/register", "", creds); rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 on duplicate, got %d", rec.Code)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	env := setupTestRouter(t)
	env.registerAndLogin(t, "alice")

	wrongPassword := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
	unknownUser := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "mallory", "password": "nope"})

	if wrongPassword.Code != http.StatusUnauthorized || unknownUser.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both failures, got %d and %d", wrongPassword.Code, unknownUser.Code)
	}
	if wrongPassword.Body.String() != unknownUser.Body.String() {
		t.Fatalf("login failure bodies differ: %s vs %s", wrongPassword.Body, unknownUser.Body)
	}
}

func TestProtectedRequiresToken(t *testing.T) {
	env := setupTestRouter(t)

	if rec := env.do(t, http.MethodGet, "/auth/protected", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rec.Code)
	}

	token := env.registerAndLogin(t, "alice")
	rec := env.do(t, http.MethodGet, "/auth/protected", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]any
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp["logged_in_as"] == "" {
		t.Fatalf("expected user id in response")
	}
}

func TestSaveAndListConversationPreservesOrder(t *testing.T) {
	env := setupTestRouter(t)
	token := env.registerAndLogin(t, "alice")

	messages := []map[string]string{
		{"role": "user", "content": "first"},
		{"role": "assistant", "content": "second", "model": "gpt-4"},
		{"role": "user", "content": "third"},
	}

	rec := env.do(t, http.MethodPost, "/api/conversations", token, map[string]any{
		"messages": messages,
		"title":    "My Chat",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body)
	}

	var saveResp struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	decodeBody(t, rec.Body.Bytes(), &saveResp)
	if saveResp.Title != "My Chat" {
		t.Fatalf("expected caller title, got %q", saveResp.Title)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var listResp []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Model   string `json:"model"`
		} `json:"messages"`
	}
	decodeBody(t, rec.Body.Bytes(), &listResp)

	if len(listResp) != 1 || len(listResp[0].Messages) != 3 {
		t.Fatalf("expected one conversation with 3 messages, got %+v", listResp)
	}
	for i, want := range []string{"first", "second", "third"} {
		if listResp[0].Messages[i].Content != want {
			t.Fatalf("message %d out of order: got %q, want %q", i, listResp[0].Messages[i].Content, want)
		}
	}
	if listResp[0].Messages[1].Model != "gpt-4" {
		t.Fatalf("expected model preserved on message, got %q", listResp[0].Messages[1].Model)
	}

	// Another user must not see this conversation.
	otherToken := env.registerAndLogin(t, "bob")
	rec = env.do(t, http.MethodGet, "/api/conversations", otherToken, nil)
	var otherResp []any
	decodeBody(t, rec.Body.Bytes(), &otherResp)
	if len(otherResp) != 0 {
		t.Fatalf("expected empty list for other user, got %d conversations", len(otherResp))
	}
}

func TestSaveConversationRejectsEmptyMessages(t *testing.T) {
	env := setupTestRouter(t)
	token := env.registerAndLogin(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/conversations", token, map[string]any{"messages": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations", token, nil)
	var listResp []any
	decodeBody(t, rec.Body.Bytes(), &listResp)
	if len(listResp) != 0 {
		t.Fatalf("nothing may be persisted on validation failure")
	}
}

func TestSaveConversationSynthesizesTitle(t *testing.T) {
	env := setupTestRouter(t)
	token := env.registerAndLogin(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/conversations", token, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Title string `json:"title"`
	}
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp.Title != "Generated Title" {
		t.Fatalf("expected synthesized title, got %q", resp.Title)
	}
	if env.generator.calls != 1 {
		t.Fatalf("expected exactly one title call, got %d", env.generator.calls)
	}
}

func TestForkConversation(t *testing.T) {
	env := setupTestRouter(t)
	token := env.registerAndLogin(t, "alice")

	messages := make([]map[string]string, 0, 5)
	for i := 0; i < 5; i++ {
		messages = append(messages, map[string]string{"role": "user", "content": fmt.Sprintf("m%d", i)})
	}

	rec := env.do(t, http.MethodPost, "/api/conversations", token, map[string]any{
		"messages": messages,
		"title":    "Original",
	})
	var saveResp struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec.Body.Bytes(), &saveResp)

	// Missing forkIndex is a validation error.
	rec = env.do(t, http.MethodPost, "/api/conversations/"+saveResp.ID+"/fork", token, map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without forkIndex, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/conversations/"+saveResp.ID+"/fork", token, map[string]any{"forkIndex": 2})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body)
	}

	var forkResp struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	decodeBody(t, rec.Body.Bytes(), &forkResp)
	if forkResp.Title != "Fork of: Original" {
		t.Fatalf("expected fork title, got %q", forkResp.Title)
	}
	if forkResp.ID == saveResp.ID {
		t.Fatalf("fork must be a new conversation")
	}

	rec = env.do(t, http.MethodGet, "/api/conversations", token, nil)
	var listResp []struct {
		ID       string `json:"id"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	decodeBody(t, rec.Body.Bytes(), &listResp)

	if len(listResp) != 2 {
		t.Fatalf("expected original plus fork, got %d conversations", len(listResp))
	}
	for _, conv := range listResp {
		switch conv.ID {
		case saveResp.ID:
			if len(conv.Messages) != 5 {
				t.Fatalf("original conversation changed: %d messages", len(conv.Messages))
			}
		case forkResp.ID:
			if len(conv.Messages) != 3 {
				t.Fatalf("expected 3 messages in fork, got %d", len(conv.Messages))
			}
			for i, want := range []string{"m0", "m1", "m2"} {
				if conv.Messages[i].Content != want {
					t.Fatalf("fork message %d: got %q, want %q", i, conv.Messages[i].Content, want)
				}
			}
		default:
			t.Fatalf("unexpected conversation %s", conv.ID)
		}
	}

	// Forking an unknown conversation is a 404.
	rec = env.do(t, http.MethodPost, "/api/conversations/nope/fork", token, map[string]any{"forkIndex": 0})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestDeleteConversation(t *testing.T) {
	env := setupTestRouter(t)
	token := env.registerAndLogin(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/conversations", token, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
		"title":    "Doomed",
	})
	var saveResp struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec.Body.Bytes(), &saveResp)

	if rec := env.do(t, http.MethodDelete, "/api/conversations/"+saveResp.ID, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/conversations", token, nil)
	var listResp []any
	decodeBody(t, rec.Body.Bytes(), &listResp)
	if len(listResp) != 0 {
		t.Fatalf("expected conversation removed, got %d", len(listResp))
	}

	if rec := env.do(t, http.MethodDelete, "/api/conversations/"+saveResp.ID, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete, got %d", rec.Code)
	}
}

func TestAppendMessageOwnership(t *testing.T) {
	env := setupTestRouter(t)
	aliceToken := env.registerAndLogin(t, "alice")
	bobToken := env.registerAndLogin(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/conversations", aliceToken, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
		"title":    "Private",
	})
	var saveResp struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec.Body.Bytes(), &saveResp)

	body := map[string]string{"role": "user", "content": "intrusion"}
	if rec := env.do(t, http.MethodPost, "/api/conversations/"+saveResp.ID+"/messages", bobToken, body); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for non-owner, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/conversations/"+saveResp.ID+"/messages", aliceToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 for owner, got %d", rec.Code)
	}

	var appendResp struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec.Body.Bytes(), &appendResp)
	if appendResp.ID == "" {
		t.Fatalf("expected message id in response")
	}
}

func TestPromptLifecycle(t *testing.T) {
	env := setupTestRouter(t)
	token := env.registerAndLogin(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/prompts", token, map[string]string{
		"name":         "Summarizer",
		"systemPrompt": "You summarize.",
		"userPrompt":   "Summarize: {text}",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body)
	}

	var createResp struct {
		Prompt struct {
			ID string `json:"id"`
		} `json:"prompt"`
	}
	decodeBody(t, rec.Body.Bytes(), &createResp)

	rec = env.do(t, http.MethodGet, "/api/prompts", token, nil)
	var listResp struct {
		Prompts []struct {
			Name string `json:"name"`
		} `json:"prompts"`
	}
	decodeBody(t, rec.Body.Bytes(), &listResp)
	if len(listResp.Prompts) != 1 || listResp.Prompts[0].Name != "Summarizer" {
		t.Fatalf("expected one prompt named Summarizer, got %+v", listResp.Prompts)
	}

	if rec := env.do(t, http.MethodDelete, "/api/prompts/"+createResp.Prompt.ID, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/prompts/"+createResp.Prompt.ID, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete, got %d", rec.Code)
	}
}

func TestGenerate(t *testing.T) {
	env := setupTestRouter(t)
	env.generator.reply = "completion text"

	rec := env.do(t, http.MethodPost, "/api/generate", "", map[string]any{
		"model":      "gpt-4",
		"userPrompt": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Response string `json:"response"`
	}
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp.Response != "completion text" {
		t.Fatalf("expected completion text, got %q", resp.Response)
	}
}

func TestGenerateUnsupportedModel(t *testing.T) {
	env := setupTestRouter(t)
	env.generator.err = llm.ErrUnsupportedModel

	rec := env.do(t, http.MethodPost, "/api/generate", "", map[string]any{
		"model":      "unknown-model-x",
		"userPrompt": "hello",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	var resp struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec.Body.Bytes(), &resp)
	if resp.Error != "Invalid model selected" {
		t.Fatalf("unexpected error body: %q", resp.Error)
	}
}

func TestConversationRoutesRequireToken(t *testing.T) {
	env := setupTestRouter(t)

	if rec := env.do(t, http.MethodGet, "/api/conversations", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/conversations", "garbage-token", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for bad token, got %d", rec.Code)
	}
}
