package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func newTestServer(blogs, comments *fakeCollection) *Server {
	config := &Config{}
	applyDefaults(config)
	d := newTestDispatcher(blogs, comments, DispatcherOptions{MaxPageSize: config.Function.MaxPageSize})
	return newServer(config, quietLogger(), d)
}

func serveHTTP(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) *Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

func TestServer_HandleInvoke(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		blogs := &fakeCollection{}
		s := newTestServer(blogs, &fakeCollection{})

		rec := serveHTTP(s, http.MethodPost, "/invoke", `{"action":"delete","data":{"id":"abc"}}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"code":200,"msg":"deleted","data":{"deleted":1}}`, rec.Body.String())
		assert.Equal(t, []string{"abc"}, blogs.removed)
	})

	t.Run("status mirrors envelope code", func(t *testing.T) {
		s := newTestServer(&fakeCollection{}, &fakeCollection{})

		rec := serveHTTP(s, http.MethodPost, "/invoke", `{"action":"archive"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"code":404,"msg":"unknown operation"}`, rec.Body.String())

		rec = serveHTTP(s, http.MethodPost, "/invoke", `{"action":"update","data":{}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing id", decodeEnvelope(t, rec).Msg)
	})

	t.Run("invalid body", func(t *testing.T) {
		s := newTestServer(&fakeCollection{}, &fakeCollection{})

		rec := serveHTTP(s, http.MethodPost, "/invoke", `{"action":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeEnvelope(t, rec)
		assert.Equal(t, "invalid request", resp.Msg)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("method not allowed", func(t *testing.T) {
		s := newTestServer(&fakeCollection{}, &fakeCollection{})

		rec := serveHTTP(s, http.MethodGet, "/invoke", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	})
}

func TestServer_HealthAndRoot(t *testing.T) {
	s := newTestServer(&fakeCollection{}, &fakeCollection{})

	rec := serveHTTP(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = serveHTTP(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")

	rec = serveHTTP(s, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GRPCInvoke(t *testing.T) {
	blogs := &fakeCollection{}
	s := newTestServer(blogs, &fakeCollection{})

	lis := bufconn.Listen(1 << 20)
	go s.grpcSrv.Serve(lis)
	defer s.grpcSrv.Stop()

	ctx := context.Background()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := InvokeRemote(ctx, conn, &Event{
		Action: ActionUpdateFavorite,
		Data:   json.RawMessage(`{"id":"abc","isFavorite":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "favorited", resp.Msg)
	assert.Equal(t, map[string]interface{}{"updated": float64(1)}, resp.Data)

	require.Len(t, blogs.updates, 1)
	assert.Equal(t, true, blogs.updates[0].fields["isFavorite"])

	resp, err = InvokeRemote(ctx, conn, &Event{Action: "archive"})
	require.NoError(t, err)
	assert.Equal(t, &Response{Code: 404, Msg: "unknown operation"}, resp)
}
