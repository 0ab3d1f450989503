package handler

import (
	"bytes"
	"net/http"

	"github.com/blues/collab/internal/idempotency"
	"github.com/blues/collab/internal/logger"
	"github.com/gin-gonic/gin"
)

const idempotencyHeader = "Idempotency-Key"

// IdempotencyMiddleware 带 Idempotency-Key 的写请求重放时直接返回首次成功的响应
//
// 只保存 2xx 响应，失败的请求可以用同一个 key 重试。
func IdempotencyMiddleware(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		idemKey := c.GetHeader(idempotencyHeader)
		if idemKey == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		key := idempotency.Key(Principal(c).Hex(), c.Request.Method+" "+c.Request.URL.Path, idemKey)
		record, found, err := store.Get(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Idempotency lookup failed, processing request normally: %v", err)
			c.Next()
			return
		}
		if found {
			c.Header("Idempotent-Replayed", "true")
			c.Data(record.Status, "application/json; charset=utf-8", record.Body)
			c.Abort()
			return
		}

		w := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status < 200 || status >= 300 {
			return
		}
		if err := store.Save(c.Request.Context(), key, idempotency.Record{Status: status, Body: w.body.Bytes()}); err != nil {
			logger.Warn("Failed to save idempotency record: %v", err)
		}
	}
}

// recordingWriter 在写出响应的同时保留一份响应体
type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
