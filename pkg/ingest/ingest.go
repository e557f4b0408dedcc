// Package ingest decodes the entity and link payloads into snapshots and
// import edges. Bad records are rejected individually; only an unreadable
// payload fails the whole decode.
package ingest

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/dd0wney/cluso-assembler/pkg/entity"
	"github.com/dd0wney/cluso-assembler/pkg/links"
	"github.com/dd0wney/cluso-assembler/pkg/validation"
)

// Result holds the accepted items of a payload and the rejected records
type Result[T any] struct {
	Items    []T
	Rejected []*RecordError
}

// embedded is a field whose value is itself JSON, sent either as a string or
// inline
type embedded json.RawMessage

// UnmarshalJSON implements json.Unmarshaler
func (e *embedded) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = embedded(s)
		return nil
	}
	*e = append((*e)[:0], b...)
	return nil
}

func (e embedded) decode(v any) error {
	if len(e) == 0 || string(e) == "null" {
		return nil
	}
	return json.Unmarshal(e, v)
}

// EntityRecord is one value of the entities payload
type EntityRecord struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name" validate:"required"`
	R     embedded `json:"r"`
	G     embedded `json:"g"`
	V     embedded `json:"v"`
	GM    int      `json:"gm" validate:"gte=0"`
	Pos   int      `json:"pos" validate:"gte=0"`
	Count int      `json:"count" validate:"gte=0"`
	A     float64  `json:"a" validate:"gte=0,lte=1"`
	Info  string   `json:"info"`
}

// LinkRecord is one element of the links payload
type LinkRecord struct {
	S int64   `json:"s"`
	D int64   `json:"d"`
	W float64 `json:"w" validate:"gte=0"`
}

// DecodeEntities reads the entities payload: an object of decimal id to
// record. Snapshots come back ordered by descending max generation so the
// entities with the longest way to the root start first.
func DecodeEntities(r io.Reader) (Result[entity.Snapshot], error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Result[entity.Snapshot]{}, fmt.Errorf("decode entities: %w", err)
	}

	var res Result[entity.Snapshot]
	gm := make(map[int64]int, len(raw))
	for key, body := range raw {
		snap, generation, err := decodeEntity(key, body)
		if err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}
		gm[snap.ID] = generation
		res.Items = append(res.Items, snap)
	}

	slices.SortFunc(res.Items, func(a, b entity.Snapshot) int {
		return cmp.Or(cmp.Compare(gm[b.ID], gm[a.ID]), cmp.Compare(a.ID, b.ID))
	})
	slices.SortFunc(res.Rejected, func(a, b *RecordError) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

func decodeEntity(key string, body json.RawMessage) (entity.Snapshot, int, *RecordError) {
	fail := func(field string, cause error) *RecordError {
		return &RecordError{Op: "entities", Kind: "entity", ID: key, Field: field, Cause: cause}
	}

	keyID, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return entity.Snapshot{}, 0, fail("", fmt.Errorf("%w: key %q is not an integer", ErrMalformed, key))
	}
	var rec EntityRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return entity.Snapshot{}, 0, fail("", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if rec.ID == 0 {
		rec.ID = keyID
	}
	if rec.ID != keyID {
		return entity.Snapshot{}, 0, fail("id", fmt.Errorf("%w: %d", ErrIDMismatch, rec.ID))
	}
	if err := validation.Struct(&rec); err != nil {
		return entity.Snapshot{}, 0, fail(validation.FirstField(err), fmt.Errorf("%w: %v", ErrInvalid, err))
	}

	rels, field, err := decodeRelations(rec.R)
	if err != nil {
		return entity.Snapshot{}, 0, fail(field, err)
	}
	snap := entity.Snapshot{
		ID:            rec.ID,
		Name:          rec.Name,
		Pos:           rec.Pos,
		Count:         rec.Count,
		Alpha:         rec.A,
		Info:          rec.Info,
		MaxGeneration: rec.GM,
		Relations:     rels,
	}
	if err := rec.G.decode(&snap.Generations); err != nil {
		return entity.Snapshot{}, 0, fail("g", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if err := rec.V.decode(&snap.Vector); err != nil {
		return entity.Snapshot{}, 0, fail("v", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	return snap, rec.GM, nil
}

func decodeRelations(e embedded) (map[int64]entity.Relation, string, error) {
	var raw map[string]int
	if err := e.decode(&raw); err != nil {
		return nil, "r", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rels := make(map[int64]entity.Relation, len(raw))
	for k, ordinal := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, "r", fmt.Errorf("%w: related id %q", ErrMalformed, k)
		}
		rel := entity.Relation(ordinal)
		if !rel.Valid() {
			return nil, "r", fmt.Errorf("%w: %d for id %d", ErrBadRelation, ordinal, id)
		}
		rels[id] = rel
	}
	return rels, "", nil
}

// DecodeLinks reads the links payload, an array of {s, d, w}. Edges come back
// in payload order; the pipeline ranks them.
func DecodeLinks(r io.Reader) (Result[links.ImportLink], error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Result[links.ImportLink]{}, fmt.Errorf("decode links: %w", err)
	}

	var res Result[links.ImportLink]
	for i, body := range raw {
		fail := func(field string, cause error) {
			res.Rejected = append(res.Rejected, &RecordError{Op: "links", Kind: "link", ID: strconv.Itoa(i), Field: field, Cause: cause})
		}
		var rec LinkRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			fail("", fmt.Errorf("%w: %v", ErrMalformed, err))
			continue
		}
		if err := validation.Struct(&rec); err != nil {
			fail(validation.FirstField(err), fmt.Errorf("%w: %v", ErrInvalid, err))
			continue
		}
		res.Items = append(res.Items, links.ImportLink{Source: rec.S, Destination: rec.D, Weight: rec.W})
	}
	return res, nil
}

// EntitiesFile decodes the entities payload stored at path
func EntitiesFile(path string) (Result[entity.Snapshot], error) {
	f, err := os.Open(path)
	if err != nil {
		return Result[entity.Snapshot]{}, err
	}
	defer f.Close()
	return DecodeEntities(f)
}

// LinksFile decodes the links payload stored at path
func LinksFile(path string) (Result[links.ImportLink], error) {
	f, err := os.Open(path)
	if err != nil {
		return Result[links.ImportLink]{}, err
	}
	defer f.Close()
	return DecodeLinks(f)
}
