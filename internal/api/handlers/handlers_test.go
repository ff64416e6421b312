package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/civiclens/civiclens/backend/internal/adapters/events"
	"github.com/civiclens/civiclens/backend/internal/adapters/locking"
	"github.com/civiclens/civiclens/backend/internal/adapters/memory"
	"github.com/civiclens/civiclens/backend/internal/api/handlers"
	"github.com/civiclens/civiclens/backend/internal/api/routes"
	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/pkg/config"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/stretchr/testify/require"
)

const maxUploadBytes = 64 * 1024

type memoryBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *memoryBlobs) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = data
	return nil
}

func (b *memoryBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("stored file not found")
	}
	return data, nil
}

func (b *memoryBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// textReader returns the document bytes as one page; "%ENCRYPTED" documents
// are reported as password protected
type textReader struct{}

func (textReader) ReadPages(ctx context.Context, data []byte) ([]string, error) {
	if bytes.HasPrefix(data, []byte("%ENCRYPTED")) {
		return nil, apperrors.NewEncryptedDocumentError("document is password protected", nil)
	}
	return []string{string(data)}, nil
}

type testServer struct {
	handler http.Handler
	bus     *events.MemoryEventBus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	blobs := &memoryBlobs{data: make(map[string][]byte)}
	bus := events.NewMemoryEventBus()
	t.Cleanup(func() { bus.Close() })

	registry, err := services.NewStageRegistry(services.NewTextExtractionStage(textReader{}))
	require.NoError(t, err)

	policyService := services.NewPolicyService(store.Policies(), blobs, nil, bus, services.UploadOptions{
		MaxBytes:     maxUploadBytes,
		AllowedTypes: []string{"application/pdf"},
	})
	coordinator := services.NewPipelineCoordinator(
		store.Policies(), store.ProcessingLog(), registry, blobs, locking.NewMemoryLocker(), bus, nil,
		services.CoordinatorOptions{StaleAfter: 15 * time.Minute},
	)

	router := routes.NewRouter(
		handlers.NewHealthHandler(config.AppConfig{Name: "CivicLens AI", Version: "0.1.0", Environment: "test"}),
		handlers.NewPolicyHandler(policyService, maxUploadBytes),
		handlers.NewPipelineHandler(coordinator),
		handlers.NewSSEHandler(bus).WithHeartbeat(time.Hour),
		false,
		[]string{"*"},
		nil,
	)
	return &testServer{handler: router.SetupRoutes(), bus: bus}
}

func (s *testServer) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type uploadFile struct {
	filename    string
	contentType string
	content     []byte
	fields      map[string]string
}

func multipartBody(t *testing.T, f uploadFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range f.fields {
		require.NoError(t, writer.WriteField(name, value))
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+f.filename+`"`)
	header.Set("Content-Type", f.contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(f.content)
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, f uploadFile) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, f)
	return s.do(t, http.MethodPost, "/api/v1/policies/upload", body, contentType)
}

func (s *testServer) uploadPolicy(t *testing.T, content string) handlers.UploadResponse {
	t.Helper()
	rec := s.upload(t, uploadFile{filename: "policy.pdf", contentType: "application/pdf", content: []byte(content)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp handlers.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorDetail {
	t.Helper()
	var body handlers.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}
