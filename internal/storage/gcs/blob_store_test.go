package gcs_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	blobstorage "github.com/JakeFAU/gallito-crawler/internal/storage"
	"github.com/JakeFAU/gallito-crawler/internal/storage/gcs"
)

const (
	bucket     = "test-bucket"
	objectPath = "/storage/v1/b/" + bucket + "/o/"
	uploadPath = "/upload/storage/v1/b/" + bucket + "/o"
)

type fakeObject struct {
	data        []byte
	generation  int64
	contentType string
}

// fakeGCS implements the parts of the GCS JSON API the store uses.
type fakeGCS struct {
	t          *testing.T
	mu         sync.Mutex
	objects    map[string]*fakeObject
	nextGen    int64
	inserts    []string
	composes   int
	deletes    []string
	composeErr int
	statErr    int
}

func newFakeGCS(t *testing.T) *fakeGCS {
	return &fakeGCS{t: t, objects: map[string]*fakeObject{}, nextGen: 1}
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == uploadPath:
		f.insert(w, r)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, objectPath) && strings.HasSuffix(r.URL.Path, "/compose"):
		f.compose(w, r, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, objectPath), "/compose"))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, objectPath):
		if f.statErr != 0 {
			writeError(w, f.statErr)
			return
		}
		obj, ok := f.objects[strings.TrimPrefix(r.URL.Path, objectPath)]
		if !ok {
			writeError(w, http.StatusNotFound)
			return
		}
		writeObject(w, strings.TrimPrefix(r.URL.Path, objectPath), obj)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, objectPath):
		name := strings.TrimPrefix(r.URL.Path, objectPath)
		f.deletes = append(f.deletes, name)
		delete(f.objects, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		writeError(w, http.StatusNotImplemented)
	}
}

func (f *fakeGCS) insert(w http.ResponseWriter, r *http.Request) {
	var meta struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
	}
	data, err := readMultipart(r, &meta)
	if err != nil {
		f.t.Errorf("read upload: %v", err)
		writeError(w, http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("ifGenerationMatch") == "0" {
		if _, exists := f.objects[meta.Name]; exists {
			writeError(w, http.StatusPreconditionFailed)
			return
		}
	}
	obj := &fakeObject{data: data, generation: f.nextGen, contentType: meta.ContentType}
	f.nextGen++
	f.objects[meta.Name] = obj
	f.inserts = append(f.inserts, meta.Name)
	writeObject(w, meta.Name, obj)
}

func (f *fakeGCS) compose(w http.ResponseWriter, r *http.Request, dst string) {
	f.composes++
	if f.composeErr != 0 {
		writeError(w, f.composeErr)
		return
	}
	var req struct {
		Destination struct {
			ContentType string `json:"contentType"`
		} `json:"destination"`
		SourceObjects []struct {
			Name string `json:"name"`
		} `json:"sourceObjects"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decode compose request: %v", err)
		writeError(w, http.StatusBadRequest)
		return
	}

	current, ok := f.objects[dst]
	if want := r.URL.Query().Get("ifGenerationMatch"); want != "" {
		if !ok || strconv.FormatInt(current.generation, 10) != want {
			writeError(w, http.StatusPreconditionFailed)
			return
		}
	}
	var data []byte
	for _, src := range req.SourceObjects {
		obj, ok := f.objects[src.Name]
		if !ok {
			writeError(w, http.StatusNotFound)
			return
		}
		data = append(data, obj.data...)
	}
	obj := &fakeObject{data: data, generation: f.nextGen, contentType: req.Destination.ContentType}
	f.nextGen++
	f.objects[dst] = obj
	writeObject(w, dst, obj)
}

// readMultipart decodes a multipart/related upload into its JSON metadata
// and media parts.
func readMultipart(r *http.Request, meta any) ([]byte, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		return nil, err
	}
	if err := json.NewDecoder(metaPart).Decode(meta); err != nil {
		return nil, err
	}
	mediaPart, err := mr.NextPart()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(mediaPart)
}

type callStats struct {
	inserts  []string
	composes int
	deletes  []string
}

func (f *fakeGCS) stats() callStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return callStats{
		inserts:  append([]string(nil), f.inserts...),
		composes: f.composes,
		deletes:  append([]string(nil), f.deletes...),
	}
}

func (f *fakeGCS) object(name string) (*fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[name]
	return obj, ok
}

func writeObject(w http.ResponseWriter, name string, obj *fakeObject) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":        name,
		"bucket":      bucket,
		"generation":  strconv.FormatInt(obj.generation, 10),
		"size":        strconv.Itoa(len(obj.data)),
		"contentType": obj.contentType,
	})
}

func writeError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s"}}`, code, http.StatusText(code))
}

// newTestStore creates a BlobStore pointed at a fake GCS endpoint.
func newTestStore(t *testing.T, fake *fakeGCS) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: bucket}, nil)
	require.NoError(t, err)
	return store
}

func TestPutObjectCreatesMissingObject(t *testing.T) {
	fake := newFakeGCS(t)
	store := newTestStore(t, fake)

	data := `{"id":"12345678"}` + "\n"
	uri, err := store.PutObject(context.Background(), "properties_gallito.jl", "application/jsonl", strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/properties_gallito.jl", uri)

	obj, ok := fake.object("properties_gallito.jl")
	require.True(t, ok)
	assert.Equal(t, data, string(obj.data))
	assert.Equal(t, "application/jsonl", obj.contentType)
	assert.Zero(t, fake.stats().composes)
}

func TestPutObjectAppendsByComposing(t *testing.T) {
	fake := newFakeGCS(t)
	store := newTestStore(t, fake)
	ctx := context.Background()

	_, err := store.PutObject(ctx, "feed.jl", "application/jsonl", strings.NewReader("a\n"))
	require.NoError(t, err)
	_, err = store.PutObject(ctx, "feed.jl", "application/jsonl", strings.NewReader("b\n"))
	require.NoError(t, err)

	obj, ok := fake.object("feed.jl")
	require.True(t, ok)
	assert.Equal(t, "a\nb\n", string(obj.data))
	assert.Equal(t, "application/jsonl", obj.contentType)
	calls := fake.stats()
	assert.Equal(t, 1, calls.composes)
	require.Len(t, calls.inserts, 2)
	assert.True(t, strings.HasPrefix(calls.inserts[1], "feed.jl.part-"))
	assert.Equal(t, []string{calls.inserts[1]}, calls.deletes, "the part object is removed")
	_, leftover := fake.object(calls.inserts[1])
	assert.False(t, leftover)
}

func TestPutObjectEmptyReader(t *testing.T) {
	fake := newFakeGCS(t)
	store := newTestStore(t, fake)
	ctx := context.Background()

	_, err := store.PutObject(ctx, "empty.jl", "", strings.NewReader(""))
	require.NoError(t, err)
	obj, ok := fake.object("empty.jl")
	require.True(t, ok, "a missing object is created even without data")
	assert.Empty(t, obj.data)

	_, err = store.PutObject(ctx, "empty.jl", "", strings.NewReader(""))
	require.NoError(t, err)
	calls := fake.stats()
	assert.Len(t, calls.inserts, 1)
	assert.Zero(t, calls.composes)
}

func TestPutObjectComposeFailureRemovesPart(t *testing.T) {
	fake := newFakeGCS(t)
	store := newTestStore(t, fake)
	ctx := context.Background()

	_, err := store.PutObject(ctx, "feed.jl", "", strings.NewReader("a\n"))
	require.NoError(t, err)

	fake.mu.Lock()
	fake.composeErr = http.StatusPreconditionFailed
	fake.mu.Unlock()
	_, err = store.PutObject(ctx, "feed.jl", "", strings.NewReader("b\n"))
	assert.ErrorContains(t, err, "compose gs://test-bucket/feed.jl")

	obj, _ := fake.object("feed.jl")
	assert.Equal(t, "a\n", string(obj.data))
	assert.Len(t, fake.stats().deletes, 1)
}

func TestPutObjectServerError(t *testing.T) {
	fake := newFakeGCS(t)
	fake.statErr = http.StatusForbidden
	store := newTestStore(t, fake)

	_, err := store.PutObject(context.Background(), "feed.jl", "", strings.NewReader("data"))
	assert.ErrorContains(t, err, "stat gs://test-bucket/feed.jl")
	assert.Empty(t, fake.stats().inserts)
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"}, nil)
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = gcs.New(client, gcs.Config{}, nil)
	assert.ErrorIs(t, err, blobstorage.ErrMissingConfig)

	store, err := gcs.New(client, gcs.Config{Bucket: "b"}, nil)
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	assert.Error(t, err)
}
