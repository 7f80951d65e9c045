package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docscribe/internal/ai"
	"docscribe/internal/model"
	"docscribe/internal/pkg/filestore"
	"docscribe/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

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
	return db
}

func newTestFilestore(t *testing.T) *filestore.Store {
	t.Helper()

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("init test filestore: %v", err)
	}
	return files
}

// stubFacade is a canned LLMFacade. Calls are counted so tests can assert
// how often the provider was consulted.
type stubFacade struct {
	answer  string
	summary string

	answerErr    error
	summarizeErr error

	answerCalls    int
	summarizeCalls int
}

func (f *stubFacade) Summarize(ctx context.Context, text string) (string, error) {
	f.summarizeCalls++
	if f.summarizeErr != nil {
		return "", f.summarizeErr
	}
	return f.summary, nil
}

func (f *stubFacade) Answer(ctx context.Context, contextText string, history []ai.ChatMessage, question string) (string, error) {
	f.answerCalls++
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return f.answer, nil
}

func (f *stubFacade) StreamAnswer(ctx context.Context, contextText string, history []ai.ChatMessage, question string, onChunk func(string) error) (string, error) {
	f.answerCalls++
	if f.answerErr != nil {
		return "", f.answerErr
	}
	for _, r := range f.answer {
		if err := onChunk(string(r)); err != nil {
			return "", err
		}
	}
	return f.answer, nil
}

func (f *stubFacade) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *stubFacade) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type stubEnqueuer struct {
	published []uint
	err       error
}

func (e *stubEnqueuer) Publish(ctx context.Context, documentID uint) error {
	if e.err != nil {
		return e.err
	}
	e.published = append(e.published, documentID)
	return nil
}

// memHistoryCache is an in-process HistoryCache for observing cache reads,
// writes, and invalidations.
type memHistoryCache struct {
	entries map[uint][]model.ChatMessage
	deletes int
}

func newMemHistoryCache() *memHistoryCache {
	return &memHistoryCache{entries: map[uint][]model.ChatMessage{}}
}

func (c *memHistoryCache) GetHistory(ctx context.Context, sessionID uint) ([]model.ChatMessage, bool, error) {
	messages, ok := c.entries[sessionID]
	return messages, ok, nil
}

func (c *memHistoryCache) SetHistory(ctx context.Context, sessionID uint, messages []model.ChatMessage) error {
	c.entries[sessionID] = messages
	return nil
}

func (c *memHistoryCache) DeleteHistory(ctx context.Context, sessionID uint) error {
	delete(c.entries, sessionID)
	c.deletes++
	return nil
}

func newTestDocumentService(t *testing.T, db *gorm.DB, facade LLMFacade, enqueuer IngestEnqueuer, maxBytes int64) *DocumentService {
	t.Helper()

	return NewDocumentService(
		repository.NewDocumentRepository(db),
		newTestFilestore(t),
		enqueuer,
		facade,
		nil,
		maxBytes,
		[]string{".pdf", ".docx", ".txt"},
		2000,
	)
}

func newTestChatService(db *gorm.DB, historyCache HistoryCache, facade LLMFacade) *ChatService {
	return NewChatService(
		repository.NewChatSessionRepository(db),
		repository.NewChatMessageRepository(db),
		repository.NewDocumentRepository(db),
		repository.NewDocumentChunkRepository(db),
		historyCache,
		facade,
		20,
		2000,
		3,
	)
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()

	user := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create test user %s: %v", username, err)
	}
	return user
}

func createTestDocument(t *testing.T, db *gorm.DB, userID uint, content string) *model.Document {
	t.Helper()

	doc := &model.Document{
		UserID:       userID,
		OriginalName: "notes.txt",
		StoredName:   uuid.NewString() + ".txt",
		FileType:     "txt",
		SizeBytes:    int64(len(content)),
		Content:      content,
	}
	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("create test document: %v", err)
	}
	return doc
}
