package publisher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

func newFeishuServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestListBlocksPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/docx/v1/documents/doc1/blocks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page_token") == "" {
			writeJSON(w, `{"code":0,"data":{"has_more":true,"page_token":"p2","items":[
				{"block_id":"b0","block_type":1,"page":{"elements":[{"text_run":{"content":"标题"}}]}},
				{"block_id":"b1","block_type":2,"text":{"elements":[{"text_run":{"content":"第一"}},{"text_run":{"content":"段"}}]}},
				{"block_id":"b2","block_type":27,"image":{"token":"img-a"}}]}}`)
			return
		}
		writeJSON(w, `{"code":0,"data":{"has_more":false,"items":[
			{"block_id":"b3","block_type":4,"heading2":{"elements":[{"text_run":{"content":"小节"}}]}},
			{"block_id":"b4","block_type":2,"text":{"elements":[{"text_run":{"content":"  "}}]}}]}}`)
	})
	srv := newFeishuServer(t, mux)

	c := NewClient(srv.URL, srv.Client(), nil, zaptest.NewLogger(t)).WithToken("Bearer user-token")
	blocks, err := c.ListBlocks(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, []SourceBlock{
		{ID: "b1", Type: "text", Text: "第一段"},
		{ID: "b2", Type: "image", ImageToken: "img-a"},
		{ID: "b3", Type: "text", Text: "小节"},
	}, blocks)
}

func TestClientReportsAPIErrorCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/docx/v1/documents/doc1/blocks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":1770032,"msg":"forbidden"}`)
	})
	srv := newFeishuServer(t, mux)

	_, err := NewClient(srv.URL, srv.Client(), nil, nil).WithToken("t").ListBlocks(context.Background(), "doc1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1770032")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestClientWithoutCredential(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0", nil, nil, nil).ListBlocks(context.Background(), "doc1")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestFetchAttachmentsSkipsFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v1/medias/ok1/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegImage.Data)
	})
	mux.HandleFunc("/drive/v1/medias/ok2/download", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n0000"))
	})
	mux.HandleFunc("/drive/v1/medias/gone/download", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("/drive/v1/medias/denied/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":1061004,"msg":"forbidden"}`)
	})
	mux.HandleFunc("/drive/v1/medias/envelope/download", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code":1061045,"msg":"resource contention"}`)
	})
	srv := newFeishuServer(t, mux)

	c := NewClient(srv.URL, srv.Client(), nil, zaptest.NewLogger(t)).WithToken("t")
	images := c.FetchAttachments(context.Background(), []string{"ok1", "gone", "denied", "envelope", "ok2"})
	require.Len(t, images, 2)
	assert.Equal(t, "image/jpeg", images[0].MIMEType)
	assert.Equal(t, jpegImage.Data, images[0].Data)
	assert.Equal(t, "image/png", images[1].MIMEType)
}

func TestDownloadImageRejectsJSONError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v1/medias/denied/download", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":1061004,"msg":"forbidden"}`)
	})
	srv := newFeishuServer(t, mux)

	img, err := NewClient(srv.URL, srv.Client(), nil, nil).WithToken("t").
		DownloadImage(context.Background(), "denied")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "1061004")
	assert.Empty(t, img.Data)
}

func TestUploadImageSendsMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v1/medias/upload_all", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "docx_image", r.FormValue("parent_type"))
		assert.Equal(t, "doc1", r.FormValue("parent_node"))
		assert.Equal(t, "image_1.png", r.FormValue("file_name"))
		assert.Equal(t, "4", r.FormValue("size"))
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		assert.Equal(t, pngImage.Data, data)
		writeJSON(w, `{"code":0,"data":{"file_token":"boxcn-up"}}`)
	})
	srv := newFeishuServer(t, mux)

	token, err := NewClient(srv.URL, srv.Client(), nil, nil).WithToken("t").
		UploadImage(context.Background(), "doc1", "image_1.png", pngImage)
	require.NoError(t, err)
	assert.Equal(t, "boxcn-up", token)
}

func TestCreateBlocksPayload(t *testing.T) {
	var body []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/docx/v1/documents/doc1/blocks/doc1/children", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-1", r.URL.Query().Get("document_revision_id"))
		body, _ = io.ReadAll(r.Body)
		writeJSON(w, `{"code":0,"data":{}}`)
	})
	srv := newFeishuServer(t, mux)

	err := NewClient(srv.URL, srv.Client(), nil, nil).WithToken("t").
		CreateBlocks(context.Background(), "doc1", []Block{Heading(2, "Title"), Image("tok")})
	require.NoError(t, err)
	children := gjson.GetBytes(body, "children").Array()
	require.Len(t, children, 2)
	assert.EqualValues(t, 4, children[0].Get("block_type").Int())
	assert.Equal(t, "Title", children[0].Get("heading2.elements.0.text_run.content").String())
	assert.Equal(t, "tok", children[1].Get("image.token").String())
}

func TestTenantTokenSourceCachesToken(t *testing.T) {
	var issued atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cli_app", req["app_id"])
		assert.Equal(t, "secret", req["app_secret"])
		issued.Add(1)
		writeJSON(w, `{"code":0,"msg":"ok","tenant_access_token":"t-tenant","expire":7200}`)
	})
	mux.HandleFunc("/docx/v1/documents/doc1/blocks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t-tenant", r.Header.Get("Authorization"))
		writeJSON(w, `{"code":0,"data":{"items":[]}}`)
	})
	srv := newFeishuServer(t, mux)

	tokens, err := NewTenantTokenSource(srv.URL, srv.Client(), "cli_app", "secret")
	require.NoError(t, err)
	c := NewClient(srv.URL, srv.Client(), tokens, nil)
	for i := 0; i < 3; i++ {
		_, err := c.ListBlocks(context.Background(), "doc1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, issued.Load())
}

func TestTenantTokenSourceRequiresCredentials(t *testing.T) {
	_, err := NewTenantTokenSource("", nil, "", "secret")
	assert.Error(t, err)
}
