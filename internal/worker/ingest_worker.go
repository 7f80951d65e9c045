package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"docscribe/internal/app"
	"docscribe/internal/model"
	"docscribe/internal/platform/rabbitmq"
	"docscribe/internal/repository"
)

const embeddingBatchSize = 10 // DashScope and similar APIs often limit batch size

// IngestWorker consumes document ingest jobs: it splits the extracted text
// into overlapping chunks, embeds them, and stores the chunk set. Chat serves
// from the raw text until the chunks land, so a failed job degrades quality
// rather than correctness.
type IngestWorker struct {
	conn      *amqp.Connection
	docRepo   *repository.DocumentRepository
	chunkRepo *repository.DocumentChunkRepository
	facade    app.LLMFacade
	logger    *zap.Logger
	queueName string

	chunkSize    int
	chunkOverlap int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(
	conn *amqp.Connection,
	docRepo *repository.DocumentRepository,
	chunkRepo *repository.DocumentChunkRepository,
	facade app.LLMFacade,
	logger *zap.Logger,
	queueName string,
	chunkSize, chunkOverlap int,
) *IngestWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 8
	}
	return &IngestWorker{
		conn:         conn,
		docRepo:      docRepo,
		chunkRepo:    chunkRepo,
		facade:       facade,
		logger:       logger,
		queueName:    queueName,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var job rabbitmq.IngestJob
				if err := json.Unmarshal(d.Body, &job); err != nil {
					w.logger.Error("decode ingest job failed", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				if err := w.ingest(workerCtx, job.DocumentID); err != nil {
					w.logger.Error("ingest document failed",
						zap.Uint("document_id", job.DocumentID), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}

				w.logger.Info("document ingested", zap.Uint("document_id", job.DocumentID))
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *IngestWorker) ingest(ctx context.Context, documentID uint) error {
	doc, err := w.docRepo.GetByID(documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %d not found", documentID)
	}

	chunks := chunkText(doc.Content, w.chunkSize, w.chunkOverlap)
	if len(chunks) == 0 {
		return nil
	}

	// Call the embedding API in batches to stay under provider limits.
	var embeddings [][]float32
	for i := 0; i < len(chunks); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := w.facade.EmbedBatch(ctx, chunks[i:end])
		if err != nil {
			return err
		}
		embeddings = append(embeddings, batch...)
	}
	if len(embeddings) != len(chunks) {
		return errors.New("embedding count mismatch")
	}

	rows := make([]model.DocumentChunk, len(chunks))
	for i := range chunks {
		rows[i] = model.DocumentChunk{
			DocumentID: doc.ID,
			Seq:        i,
			Content:    chunks[i],
		}
		rows[i].SetEmbedding(embeddings[i])
	}
	return w.chunkRepo.ReplaceForDocument(doc.ID, rows)
}

// chunkText splits text into overlapping chunks by rune count.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 512
	}
	if overlap >= size {
		overlap = size / 2
	}
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += size - overlap {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
