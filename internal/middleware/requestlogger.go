package middleware

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/datht30102002/keygate/internal/models"
	"github.com/datht30102002/keygate/internal/repository"
	"github.com/gin-gonic/gin"
)

const (
	logBatchSize     = 100
	logFlushInterval = 5 * time.Second
)

// RequestLogger writes request logs to the database off the request path:
// entries go through a buffered channel to a background worker that inserts
// them in batches. When the channel is full the entry is dropped.
type RequestLogger struct {
	repo *repository.RequestLogRepository
	ch   chan models.RequestLog
	wg   sync.WaitGroup
	once sync.Once
}

func NewRequestLogger(repo *repository.RequestLogRepository, bufferSize int) *RequestLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	l := &RequestLogger{
		repo: repo,
		ch:   make(chan models.RequestLog, bufferSize),
	}

	l.wg.Add(1)
	go l.worker()

	return l
}

func (l *RequestLogger) worker() {
	defer l.wg.Done()

	batch := make([]models.RequestLog, 0, logBatchSize)
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := l.repo.CreateBatch(ctx, batch); err != nil {
			log.Printf("failed to insert request logs: %v", err)
		}
		cancel()
		batch = make([]models.RequestLog, 0, logBatchSize)
	}

	for {
		select {
		case entry, ok := <-l.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= logBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Stop flushes buffered entries and stops the worker.
func (l *RequestLogger) Stop() {
	l.once.Do(func() {
		close(l.ch)
	})
	l.wg.Wait()
}

// Middleware logs all HTTP requests
func (l *RequestLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)

		// Attribute the request to the API key that authenticated it
		var keyHash *string
		if hash := c.GetString(ContextKeyHash); hash != "" {
			keyHash = &hash
		}

		entry := models.RequestLog{
			Timestamp:      start,
			APIKeyHash:     keyHash,
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(duration.Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
		}

		select {
		case l.ch <- entry:
		default:
			// Channel full, skip logging to avoid blocking
		}
	}
}
