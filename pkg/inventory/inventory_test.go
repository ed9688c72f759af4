package inventory_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgaunet/s3bucketstats/pkg/dto"
	"github.com/sgaunet/s3bucketstats/pkg/inventory"
	"github.com/sgaunet/s3bucketstats/pkg/normalize"
)

type fakeObject struct {
	data         []byte
	lastModified time.Time
}

type fakeStore struct {
	configs   []dto.InventoryConfig
	configErr error
	objects   map[string]fakeObject
	getErr    map[string]error

	mu      sync.Mutex
	selects []string
}

func (f *fakeStore) ListInventoryConfigurations(context.Context, string) ([]dto.InventoryConfig, error) {
	return f.configs, f.configErr
}

func (f *fakeStore) ListObjects(_ context.Context, bucket, prefix string) ([]dto.S3Object, error) {
	var result []dto.S3Object
	for k, o := range f.objects {
		if strings.HasPrefix(k, bucket+"/"+prefix) {
			result = append(result, dto.S3Object{
				Key:          strings.TrimPrefix(k, bucket+"/"),
				Size:         int64(len(o.data)),
				LastModified: o.lastModified,
			})
		}
	}
	return result, nil
}

func (f *fakeStore) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := f.getErr[key]; err != nil {
		return nil, err
	}
	o, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey: " + key)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

var selectField = regexp.MustCompile(`_(\d+)`)

// SelectCSV emulates S3 Select projections over a gzip CSV object.
func (f *fakeStore) SelectCSV(ctx context.Context, bucket, key, expression string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.selects = append(f.selects, expression)
	f.mu.Unlock()

	body, err := f.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	records, err := csv.NewReader(gz).ReadAll()
	if err != nil {
		return nil, err
	}

	var positions []int
	for _, m := range selectField.FindAllStringSubmatch(expression, -1) {
		n, _ := strconv.Atoi(m[1])
		positions = append(positions, n-1)
	}
	var out bytes.Buffer
	w := csv.NewWriter(&out)
	for _, rec := range records {
		projected := make([]string, 0, len(positions))
		for _, p := range positions {
			projected = append(projected, rec[p])
		}
		_ = w.Write(projected)
	}
	w.Flush()
	return io.NopCloser(&out), nil
}

func gzipped(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

var (
	day1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
)

const (
	file1 = `"logs-archive","a.log","100","2024-04-01T10:00:00.000Z","STANDARD","e1"
"logs-archive","b.log","200","2024-04-02T10:00:00.000Z","GLACIER","e2"
`
	file2 = `"logs-archive","c.log","300","2024-04-03T10:00:00.000Z","STANDARD","e3"
"logs-archive","d.log","","2024-04-04T10:00:00.000Z","","e4"
`
	newManifest = `{
  "sourceBucket": "logs-archive",
  "destinationBucket": "arn:aws:s3:::logs-archive",
  "fileFormat": "CSV",
  "fileSchema": "Bucket, Key, Size, LastModifiedDate, StorageClass, ETag",
  "files": [
    {"key": "inventory/logs-archive/daily/data/1.csv.gz", "size": 1},
    {"key": "inventory/logs-archive/daily/data/2.csv.gz", "size": 1}
  ]
}`
	oldManifest = `{
  "fileFormat": "CSV",
  "fileSchema": "Bucket, Key, Size, LastModifiedDate, StorageClass, ETag",
  "files": [{"key": "inventory/logs-archive/daily/data/missing.csv.gz"}]
}`
)

func dailyConfig() dto.InventoryConfig {
	return dto.InventoryConfig{
		ID:                "daily",
		Enabled:           true,
		DestinationBucket: "logs-archive",
		DestinationPrefix: "inventory",
		Format:            "CSV",
	}
}

func newStore(t *testing.T) *fakeStore {
	return &fakeStore{
		configs: []dto.InventoryConfig{dailyConfig()},
		objects: map[string]fakeObject{
			"logs-archive/inventory/logs-archive/daily/2024-05-01T01-00Z/manifest.json":     {data: []byte(oldManifest), lastModified: day1},
			"logs-archive/inventory/logs-archive/daily/2024-05-02T01-00Z/manifest.json":     {data: []byte(newManifest), lastModified: day2},
			"logs-archive/inventory/logs-archive/daily/2024-05-02T01-00Z/manifest.checksum": {data: []byte("x"), lastModified: day2.Add(time.Minute)},
			"logs-archive/inventory/logs-archive/daily/data/1.csv.gz":                       {data: gzipped(t, file1), lastModified: day2},
			"logs-archive/inventory/logs-archive/daily/data/2.csv.gz":                       {data: gzipped(t, file2), lastModified: day2},
		},
	}
}

func expectedRows() []dto.BucketSummaryRow {
	return []dto.BucketSummaryRow{
		{StorageClass: dto.StorageGlacier, ObjectCount: 1, TotalBytes: 200, LastModified: time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)},
		{StorageClass: dto.StorageStandard, ObjectCount: 3, TotalBytes: 400, LastModified: time.Date(2024, 4, 4, 10, 0, 0, 0, time.UTC)},
	}
}

func TestRead_Scan(t *testing.T) {
	store := newStore(t)
	res, err := inventory.NewReader(store, false).Read(context.Background(), "logs-archive")
	require.NoError(t, err)

	assert.Equal(t, "s3://logs-archive/inventory/logs-archive/daily/2024-05-02T01-00Z/manifest.json", res.Location.String())
	assert.Equal(t, "daily", res.Config.ID)
	assert.Equal(t, expectedRows(), res.Rows)
	assert.Empty(t, store.selects)
}

func TestRead_SelectMatchesScan(t *testing.T) {
	store := newStore(t)
	reader := inventory.NewReader(store, true)
	reader.SetParallelFiles(1)
	res, err := reader.Read(context.Background(), "logs-archive")
	require.NoError(t, err)

	assert.Equal(t, expectedRows(), res.Rows)
	require.Len(t, store.selects, 2)
	assert.Equal(t, "select _3,_4,_5 from s3object", store.selects[0])
}

func TestRead_Fallthrough(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeStore)
		wantErr error
	}{
		{
			name:    "no configuration",
			mutate:  func(f *fakeStore) { f.configs = nil },
			wantErr: inventory.ErrNoInventory,
		},
		{
			name:    "configurations unreadable",
			mutate:  func(f *fakeStore) { f.configErr = errors.New("AccessDenied") },
			wantErr: inventory.ErrUnavailable,
		},
		{
			name: "only disabled or non csv",
			mutate: func(f *fakeStore) {
				disabled := dailyConfig()
				disabled.Enabled = false
				orc := dailyConfig()
				orc.Format = "ORC"
				f.configs = []dto.InventoryConfig{disabled, orc}
			},
			wantErr: inventory.ErrNoManifest,
		},
		{
			name: "report not delivered yet",
			mutate: func(f *fakeStore) {
				cfg := dailyConfig()
				cfg.ID = "weekly"
				f.configs = []dto.InventoryConfig{cfg}
			},
			wantErr: inventory.ErrNoManifest,
		},
		{
			name: "empty data files",
			mutate: func(f *fakeStore) {
				f.objects["logs-archive/inventory/logs-archive/daily/data/1.csv.gz"] = fakeObject{data: gzippedEmpty()}
				f.objects["logs-archive/inventory/logs-archive/daily/data/2.csv.gz"] = fakeObject{data: gzippedEmpty()}
			},
			wantErr: inventory.ErrEmptyInventory,
		},
		{
			name: "schema without size",
			mutate: func(f *fakeStore) {
				o := f.objects["logs-archive/inventory/logs-archive/daily/2024-05-02T01-00Z/manifest.json"]
				o.data = []byte(strings.Replace(newManifest, "Size, ", "", 1))
				f.objects["logs-archive/inventory/logs-archive/daily/2024-05-02T01-00Z/manifest.json"] = o
			},
			wantErr: inventory.ErrEmptyInventory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			tt.mutate(store)
			_, err := inventory.NewReader(store, false).Read(context.Background(), "logs-archive")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func gzippedEmpty() []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_ = gz.Close()
	return buf.Bytes()
}

func TestRead_TransportErrorOnDataFileAborts(t *testing.T) {
	store := newStore(t)
	transport := errors.New("connection reset")
	store.getErr = map[string]error{"inventory/logs-archive/daily/data/2.csv.gz": transport}

	_, err := inventory.NewReader(store, false).Read(context.Background(), "logs-archive")
	require.Error(t, err)
	assert.ErrorIs(t, err, transport)
	for _, sentinel := range []error{inventory.ErrNoInventory, inventory.ErrNoManifest, inventory.ErrEmptyInventory, inventory.ErrUnavailable} {
		assert.False(t, errors.Is(err, sentinel))
	}
}

func TestRead_SkipsConfigWithoutManifest(t *testing.T) {
	store := newStore(t)
	pending := dailyConfig()
	pending.ID = "pending"
	store.configs = []dto.InventoryConfig{pending, dailyConfig()}

	res, err := inventory.NewReader(store, false).Read(context.Background(), "logs-archive")
	require.NoError(t, err)
	assert.Equal(t, "daily", res.Config.ID)
}

func TestManifestPrefix(t *testing.T) {
	cfg := dailyConfig()
	assert.Equal(t, "inventory/logs-archive/daily/", inventory.ManifestPrefix("logs-archive", cfg))
	cfg.DestinationPrefix = ""
	assert.Equal(t, "logs-archive/daily/", inventory.ManifestPrefix("logs-archive", cfg))
}

func TestSelectExpression(t *testing.T) {
	schema, err := normalize.NewSchema([]string{"Bucket", "Key", "LastModified", "StorageClass", "Size"})
	require.NoError(t, err)
	expr, columns := inventory.SelectExpression(schema)
	assert.Equal(t, "select _5,_3,_4 from s3object", expr)
	assert.Equal(t, []string{"Size", "LastModified", "StorageClass"}, columns)

	schema, err = normalize.NewSchema([]string{"Size", "StorageClass"})
	require.NoError(t, err)
	expr, columns = inventory.SelectExpression(schema)
	assert.Equal(t, "select _1,_2 from s3object", expr)
	assert.Equal(t, []string{"Size", "StorageClass"}, columns)
}
