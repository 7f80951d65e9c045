package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"docscribe/internal/ai"
	"docscribe/internal/model"
	"docscribe/internal/repository"
)

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrMessageEmpty    = errors.New("message content is empty")
)

const defaultSessionTitle = "New Chat"

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.ChatMessage, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, sessionID uint) error
}

type ChatService struct {
	sessionRepo  *repository.ChatSessionRepository
	messageRepo  *repository.ChatMessageRepository
	docRepo      *repository.DocumentRepository
	chunkRepo    *repository.DocumentChunkRepository
	historyCache HistoryCache
	facade       LLMFacade

	maxContext      int
	contextMaxChars int
	topK            int
}

type StartSessionInput struct {
	UserID     uint
	DocumentID uint
	Title      string
}

type PostMessageInput struct {
	UserID    uint
	SessionID uint
	Content   string
}

type PostMessageResult struct {
	SessionID uint                `json:"session_id"`
	Title     string              `json:"title"`
	Messages  []model.ChatMessage `json:"messages"`
}

func NewChatService(
	sessionRepo *repository.ChatSessionRepository,
	messageRepo *repository.ChatMessageRepository,
	docRepo *repository.DocumentRepository,
	chunkRepo *repository.DocumentChunkRepository,
	historyCache HistoryCache,
	facade LLMFacade,
	maxContext, contextMaxChars, topK int,
) *ChatService {
	if maxContext <= 0 {
		maxContext = 20
	}
	if contextMaxChars <= 0 {
		contextMaxChars = 2000
	}
	if topK <= 0 {
		topK = 3
	}
	return &ChatService{
		sessionRepo:     sessionRepo,
		messageRepo:     messageRepo,
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		historyCache:    historyCache,
		facade:          facade,
		maxContext:      maxContext,
		contextMaxChars: contextMaxChars,
		topK:            topK,
	}
}

// StartSession opens a chat bound to one of the caller's documents.
func (s *ChatService) StartSession(input StartSessionInput) (*model.ChatSession, error) {
	if input.UserID == 0 || input.DocumentID == 0 {
		return nil, ErrInvalidInput
	}
	if _, err := s.resolveDocument(input.UserID, input.DocumentID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = defaultSessionTitle
	}

	session := &model.ChatSession{
		UserID:     input.UserID,
		DocumentID: input.DocumentID,
		Title:      title,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(userID uint) ([]model.ChatSession, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

// PostMessage sends one user turn through the model and appends the exchange
// to the session. The model is consulted first; a provider failure persists
// nothing, so the transcript never carries an unanswered turn.
func (s *ChatService) PostMessage(ctx context.Context, input PostMessageInput) (*PostMessageResult, error) {
	session, doc, content, err := s.prepareExchange(input)
	if err != nil {
		return nil, err
	}

	history, err := s.messageRepo.ListRecentBySessionID(session.ID, s.maxContext)
	if err != nil {
		return nil, err
	}

	answer, err := s.facade.Answer(ctx, s.buildContext(ctx, doc, content), toAIMessages(history), content)
	if err != nil {
		return nil, err
	}
	if answer == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrUpstream)
	}

	title := ""
	if session.Title == defaultSessionTitle && len(history) == 0 {
		title = deriveTitle(content)
	}

	userMsg := &model.ChatMessage{SessionID: session.ID, Role: "user", Content: content}
	assistantMsg := &model.ChatMessage{SessionID: session.ID, Role: "assistant", Content: answer}
	if err := s.sessionRepo.AppendExchange(session.ID, userMsg, assistantMsg, title); err != nil {
		return nil, err
	}
	s.invalidateHistory(ctx, session.ID)

	if title == "" {
		title = session.Title
	}
	return &PostMessageResult{
		SessionID: session.ID,
		Title:     title,
		Messages:  []model.ChatMessage{*userMsg, *assistantMsg},
	}, nil
}

// StreamMessage is PostMessage with the assistant tokens forwarded through
// onChunk as they arrive. The exchange is persisted only after the stream
// finishes cleanly.
func (s *ChatService) StreamMessage(ctx context.Context, input PostMessageInput, onChunk func(string) error) (string, error) {
	session, doc, content, err := s.prepareExchange(input)
	if err != nil {
		return "", err
	}

	history, err := s.messageRepo.ListRecentBySessionID(session.ID, s.maxContext)
	if err != nil {
		return "", err
	}

	answer, err := s.facade.StreamAnswer(ctx, s.buildContext(ctx, doc, content), toAIMessages(history), content, onChunk)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstream)
	}

	title := ""
	if session.Title == defaultSessionTitle && len(history) == 0 {
		title = deriveTitle(content)
	}

	userMsg := &model.ChatMessage{SessionID: session.ID, Role: "user", Content: content}
	assistantMsg := &model.ChatMessage{SessionID: session.ID, Role: "assistant", Content: answer}
	if err := s.sessionRepo.AppendExchange(session.ID, userMsg, assistantMsg, title); err != nil {
		return "", err
	}
	s.invalidateHistory(ctx, session.ID)

	return answer, nil
}

// History returns the session transcript oldest first, reading through the
// Redis cache when one is wired.
func (s *ChatService) History(ctx context.Context, userID, sessionID uint, limit int) ([]model.ChatMessage, error) {
	if _, err := s.resolveSession(userID, sessionID); err != nil {
		return nil, err
	}

	if s.historyCache != nil {
		if cached, hit, err := s.historyCache.GetHistory(ctx, sessionID); err == nil && hit {
			return trimMessages(cached, limit), nil
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, 0)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		_ = s.historyCache.SetHistory(ctx, sessionID, messages)
	}
	return trimMessages(messages, limit), nil
}

func (s *ChatService) prepareExchange(input PostMessageInput) (*model.ChatSession, *model.Document, string, error) {
	if input.UserID == 0 || input.SessionID == 0 {
		return nil, nil, "", ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, nil, "", ErrMessageEmpty
	}

	session, err := s.resolveSession(input.UserID, input.SessionID)
	if err != nil {
		return nil, nil, "", err
	}
	doc, err := s.docRepo.GetByID(session.DocumentID)
	if err != nil {
		return nil, nil, "", err
	}
	if doc == nil {
		return nil, nil, "", ErrDocumentNotFound
	}
	return session, doc, content, nil
}

func (s *ChatService) resolveSession(userID, sessionID uint) (*model.ChatSession, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.UserID != userID {
		return nil, ErrNotOwner
	}
	return session, nil
}

func (s *ChatService) resolveDocument(userID, documentID uint) (*model.Document, error) {
	doc, err := s.docRepo.GetByID(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if doc.UserID != userID {
		return nil, ErrNotOwner
	}
	return doc, nil
}

// buildContext prefers the top scoring embedded chunks; until the ingest
// worker has produced them (or when the query embedding fails) it falls back
// to the truncated document text.
func (s *ChatService) buildContext(ctx context.Context, doc *model.Document, question string) string {
	chunks, err := s.chunkRepo.ListByDocumentID(doc.ID)
	if err != nil || len(chunks) == 0 {
		return truncateRunes(doc.Content, s.contextMaxChars)
	}
	queryVec, err := s.facade.EmbedQuery(ctx, question)
	if err != nil {
		return truncateRunes(doc.Content, s.contextMaxChars)
	}

	top := topChunks(chunks, queryVec, s.topK)
	if len(top) == 0 {
		return truncateRunes(doc.Content, s.contextMaxChars)
	}
	parts := make([]string, len(top))
	for i, c := range top {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n---\n")
}

func (s *ChatService) invalidateHistory(ctx context.Context, sessionID uint) {
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, sessionID)
	}
}

func toAIMessages(history []model.ChatMessage) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role == "" {
			role = "user"
		}
		out = append(out, ai.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}

func trimMessages(messages []model.ChatMessage, limit int) []model.ChatMessage {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}

// deriveTitle names a session after the opening words of its first message.
func deriveTitle(content string) string {
	words := strings.Fields(content)
	if len(words) > 5 {
		words = words[:5]
	}
	title := strings.Join(words, " ")
	if runes := []rune(title); len(runes) > 50 {
		title = string(runes[:47]) + "..."
	}
	if title == "" {
		return defaultSessionTitle
	}
	return title
}

func topChunks(chunks []model.DocumentChunk, query []float32, k int) []model.DocumentChunk {
	type scoredChunk struct {
		chunk model.DocumentChunk
		score float64
	}
	scored := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		vec := c.EmbeddingVector()
		if len(vec) == 0 {
			continue
		}
		scored = append(scored, scoredChunk{chunk: c, score: cosineSimilarity(query, vec)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if k > len(scored) {
		k = len(scored)
	}
	out := make([]model.DocumentChunk, k)
	for i := 0; i < k; i++ {
		out[i] = scored[i].chunk
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
