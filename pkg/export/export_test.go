package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/links"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/parallel"
)

func newPool(t *testing.T) *parallel.WorkerPool {
	t.Helper()
	pool, err := parallel.NewWorkerPool(2, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func fixture() []*entity.Entity {
	root := entity.New(entity.Snapshot{ID: 1, Name: entity.RootName, Relations: map[int64]entity.Relation{3: entity.Child, 2: entity.Child}})
	a := entity.New(entity.Snapshot{ID: 2, Name: "a", Vector: []int{1, 2, 3, 4}, Alpha: 0.5, Relations: map[int64]entity.Relation{1: entity.Parent}})
	b := entity.New(entity.Snapshot{ID: 3, Name: "b", Count: 1, Vector: []int{7}, Relations: map[int64]entity.Relation{1: entity.Parent, 4: entity.Child}})
	c := entity.New(entity.Snapshot{ID: 4, Name: "c", Relations: map[int64]entity.Relation{3: entity.Parent}})
	stray := entity.New(entity.Snapshot{ID: 9, Name: "stray"})
	return []*entity.Entity{stray, c, b, a, root, entity.Placeholder(12)}
}

// TestBuildOrdersParentsFirst tests breadth-first ordering, skipped
// placeholders and the per-entity fields
func TestBuildOrdersParentsFirst(t *testing.T) {
	doc := Build(newPool(t), fixture(), nil)

	var ids []int64
	for _, e := range doc.Entities {
		ids = append(ids, e.ID)
	}
	if want := []int64{1, 2, 3, 4, 9}; !slices.Equal(ids, want) {
		t.Fatalf("Entity order = %v, want %v", ids, want)
	}

	root := doc.Entities[0]
	if root.Type != "group" {
		t.Errorf("Root type = %q, want group", root.Type)
	}
	if !slices.Equal(root.Children, []int64{2, 3}) {
		t.Errorf("Root children = %v, want [2 3]", root.Children)
	}

	a := doc.Entities[1]
	if a.Type != "node" {
		t.Errorf("Entity 2 type = %q, want node", a.Type)
	}
	if a.Position != [3]float64{1, 2, 3} {
		t.Errorf("Entity 2 position = %v", a.Position)
	}
	if a.Colour[3] != 0.5 {
		t.Errorf("Entity 2 alpha = %v, want 0.5", a.Colour[3])
	}
	if a.Children == nil || len(a.Children) != 0 {
		t.Errorf("Leaf children should be an empty slice, got %#v", a.Children)
	}

	b := doc.Entities[2]
	if b.Type != "group" || b.Position != [3]float64{7, 0, 0} || b.Colour[3] != 1 {
		t.Errorf("Entity 3 exported as %+v", b)
	}
}

// TestBuildTransformIsPositionOnly tests that vector components past the
// third do not leak into rotation or scale
func TestBuildTransformIsPositionOnly(t *testing.T) {
	doc := Build(newPool(t), fixture(), nil)
	for _, e := range doc.Entities {
		if e.Rotation != [3]float64{} {
			t.Errorf("Entity %d has rotation %v", e.ID, e.Rotation)
		}
		if e.Scale != [3]float64{1, 1, 1} {
			t.Errorf("Entity %d has scale %v", e.ID, e.Scale)
		}
	}
}

func TestBuildLinks(t *testing.T) {
	ls := []links.Link{
		{Source: 4, Destination: 2, Weight: 3, Alpha: 0.2, Visible: true, Highlighted: true},
		{Source: 2, Destination: 4, Weight: 1, Alpha: 0.1, Visible: true},
		{Source: 2, Destination: 9, Weight: 1, Alpha: 0.1},
	}
	doc := Build(newPool(t), fixture(), ls)
	if len(doc.Links) != 2 {
		t.Fatalf("Expected 2 visible links, got %d", len(doc.Links))
	}

	want := []Link{
		{S: 2, D: 4, W: 1, R: 0.6, G: 0.6, B: 0.6, A: 0.1},
		{S: 4, D: 2, W: 3, R: 1, G: 0.8, B: 0, A: 0.2},
	}
	if !slices.Equal(doc.Links, want) {
		t.Errorf("Links = %+v, want %+v", doc.Links, want)
	}
}

func TestEncodeDecode(t *testing.T) {
	doc := Build(newPool(t), fixture(), []links.Link{{Source: 2, Destination: 4, Weight: 2, Alpha: 0.1, Visible: true}})
	doc.Session = "s1"

	for _, format := range []Format{FormatJSON, FormatSnappy} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, doc, format); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(&buf, format)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(doc, got) {
				t.Errorf("Decoded document differs:\n got %+v\nwant %+v", got, doc)
			}
		})
	}

	var buf bytes.Buffer
	if err := Encode(&buf, doc, "xml"); err == nil {
		t.Error("Expected error encoding an unknown format")
	}
	if _, err := Decode(&buf, "xml"); err == nil {
		t.Error("Expected error decoding an unknown format")
	}
}

func TestJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	doc := Document{
		Entities: []Entity{{ID: 1, Name: "groot", Type: "group", Children: []int64{}}},
		Links:    []Link{{S: 1, D: 2, W: 1, A: 1}},
	}
	if err := Encode(&buf, doc, FormatJSON); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out := buf.String()
	for _, key := range []string{`"id":1`, `"children":[]`, `"colour"`, `"position"`, `"rotation"`, `"scale"`, `"s":1`, `"d":2`, `"w":1`} {
		if !strings.Contains(out, key) {
			t.Errorf("Encoded document is missing %s: %s", key, out)
		}
	}
}

func TestFileSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	doc := Document{Session: "abc", Entities: []Entity{{ID: 1, Name: "groot", Children: []int64{}}}, Links: []Link{}}

	path, err := Write(context.Background(), FileSink{Dir: dir}, doc, FormatSnappy)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "abc-") || !strings.HasSuffix(path, ".json.sz") {
		t.Errorf("Unexpected snapshot path %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open snapshot: %v", err)
	}
	defer f.Close()
	got, err := Decode(f, FormatSnappy)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(doc, got) {
		t.Errorf("Snapshot round trip differs: %+v", got)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temporary file left behind: %v", err)
	}
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(in.Body)
	f.body = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	client := &fakeS3{}
	sink := S3Sink{Client: client, Bucket: "graphs", Prefix: "snapshots"}
	doc := Document{Session: "abc", Entities: []Entity{}, Links: []Link{}}

	loc, err := Write(context.Background(), sink, doc, FormatJSON)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if client.input == nil {
		t.Fatal("PutObject was not called")
	}
	if *client.input.Bucket != "graphs" {
		t.Errorf("Bucket = %q", *client.input.Bucket)
	}
	if !strings.HasPrefix(*client.input.Key, "snapshots/abc-") {
		t.Errorf("Key = %q", *client.input.Key)
	}
	if *client.input.ContentType != "application/json" {
		t.Errorf("ContentType = %q", *client.input.ContentType)
	}
	if want := "s3://graphs/" + *client.input.Key; loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}

	got, err := Decode(bytes.NewReader(client.body), FormatJSON)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(doc, got) {
		t.Errorf("Uploaded document differs: %+v", got)
	}

	client.err = errors.New("denied")
	if _, err := Write(context.Background(), sink, doc, FormatJSON); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("Expected upload error, got %v", err)
	}
}

func TestObjectNameUnique(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := ObjectName("s", FormatJSON, at)
	b := ObjectName("s", FormatJSON, at)
	if a == b {
		t.Errorf("Object names collide: %s", a)
	}
	if !strings.HasPrefix(a, "s-20260102T030405Z-") {
		t.Errorf("Unexpected object name %s", a)
	}
}
