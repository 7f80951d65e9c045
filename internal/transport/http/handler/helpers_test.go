package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docscribe/internal/ai"
	"docscribe/internal/app"
	"docscribe/internal/model"
	"docscribe/internal/pkg/filestore"
	"docscribe/internal/repository"
	"docscribe/internal/transport/http/middleware"
)

const (
	testSecret   = "test-secret"
	testMaxBytes = 64
)

type stubFacade struct {
	answer  string
	summary string
}

func (f *stubFacade) Summarize(ctx context.Context, text string) (string, error) {
	return f.summary, nil
}

func (f *stubFacade) Answer(ctx context.Context, contextText string, history []ai.ChatMessage, question string) (string, error) {
	return f.answer, nil
}

func (f *stubFacade) StreamAnswer(ctx context.Context, contextText string, history []ai.ChatMessage, question string, onChunk func(string) error) (string, error) {
	for _, r := range f.answer {
		if err := onChunk(string(r)); err != nil {
			return "", err
		}
	}
	return f.answer, nil
}

func (f *stubFacade) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (f *stubFacade) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	facade *stubFacade
}

// newTestServer wires the real handler stack over a throwaway database, with
// the model provider stubbed out.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Document{},
		&model.DocumentChunk{},
		&model.ChatSession{},
		&model.ChatMessage{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("init filestore: %v", err)
	}

	facade := &stubFacade{answer: "stub answer", summary: "stub summary"}

	userRepo := repository.NewUserRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	sessionRepo := repository.NewChatSessionRepository(db)
	messageRepo := repository.NewChatMessageRepository(db)
	chunkRepo := repository.NewDocumentChunkRepository(db)

	authService := app.NewAuthService(userRepo, testSecret, 30*time.Minute)
	documentService := app.NewDocumentService(documentRepo, files, nil, facade, nil, testMaxBytes, []string{".pdf", ".docx", ".txt"}, 2000)
	chatService := app.NewChatService(sessionRepo, messageRepo, documentRepo, chunkRepo, nil, facade, 20, 2000, 3)

	authHandler := NewAuthHandler(authService, 30*time.Minute)
	documentHandler := NewDocumentHandler(documentService, testMaxBytes)
	chatHandler := NewChatHandler(chatService)

	authRequired := middleware.AuthJWT(testSecret)

	router := gin.New()
	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.GET("/me", authRequired, authHandler.Me)

	documentGroup := v1.Group("/documents")
	documentGroup.Use(authRequired)
	documentGroup.POST("", documentHandler.Upload)
	documentGroup.GET("", documentHandler.List)
	documentGroup.GET("/:id", documentHandler.Get)
	documentGroup.POST("/:id/summarize", documentHandler.Summarize)

	chatGroup := v1.Group("/chat")
	chatGroup.Use(authRequired)
	chatGroup.POST("/sessions", chatHandler.StartSession)
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.POST("/messages", chatHandler.PostMessage)
	chatGroup.POST("/messages/stream", chatHandler.StreamMessage)
	chatGroup.GET("/history", chatHandler.History)

	return &testServer{router: router, db: db, facade: facade}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// register creates a user through the API and returns their session token.
func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()

	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	w, env := s.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("register %s: status %d body %s", username, w.Code, w.Body.String())
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode register data: %v", err)
	}
	if data.Token == "" {
		t.Fatal("register returned empty token")
	}
	return data.Token
}

func (s *testServer) uploadText(t *testing.T, token, filename, content string) uint {
	t.Helper()

	req := multipartUpload(t, filename, []byte(content))
	req.Header.Set("Authorization", "Bearer "+token)
	w, env := s.do(t, req)
	if w.Code != http.StatusOK {
		t.Fatalf("upload %s: status %d body %s", filename, w.Code, w.Body.String())
	}

	var doc struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		t.Fatalf("decode upload data: %v", err)
	}
	return doc.ID
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.Copy(fw, bytes.NewReader(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
