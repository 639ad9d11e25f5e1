// Package dedup appends geolocated defect reports to a tree store collection,
// skipping reports whose coordinates are already present.
//
// The check reads the whole collection and compares coordinates with a
// pluggable predicate, exact float equality by default. It is a
// read-before-write check: two writers inserting the same coordinates at the
// same time can both succeed.
package dedup

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/Ratio1/treestore_sdk_go/internal/logging"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
)

// DefaultCollection is the sub-tree that holds pothole reports.
const DefaultCollection = "/potholes/"

// Record is one defect report. Optional fields are omitted from the stored
// JSON when empty.
type Record struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Depth     string  `json:"depth,omitempty"`
	Length    string  `json:"length,omitempty"`
	// Image is a base64-encoded photo.
	Image string `json:"image,omitempty"`
}

// WithImageFile returns a copy of r with the file at path attached as a
// base64-encoded image.
func (r Record) WithImageFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return r, treestore.NewError("image", treestore.KindInvalidArgument, path, err)
	}
	r.Image = base64.StdEncoding.EncodeToString(data)
	return r, nil
}

// stored is the shape a collection entry must have to take part in the
// duplicate check.
type stored struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
	Depth     string   `json:"depth"`
	Length    string   `json:"length"`
	Image     string   `json:"image"`
}

func (s stored) record() Record {
	return Record{
		Latitude:  *s.Latitude,
		Longitude: *s.Longitude,
		Depth:     s.Depth,
		Length:    s.Length,
		Image:     s.Image,
	}
}

var validate = validator.New()

// EqualFunc reports whether two records describe the same defect.
type EqualFunc func(a, b Record) bool

// SameCoordinates compares latitude and longitude with exact equality.
func SameCoordinates(a, b Record) bool {
	return a.Latitude == b.Latitude && a.Longitude == b.Longitude
}

// Outcome is the result of Insert.
type Outcome int

const (
	// Inserted means the record was appended.
	Inserted Outcome = iota + 1
	// Skipped means an equal record already existed; nothing was written.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Options configures an Inserter.
type Options struct {
	// Equal decides whether two records are duplicates. Default: SameCoordinates.
	Equal  EqualFunc
	Logger *slog.Logger
}

// Inserter performs deduplicated inserts.
type Inserter struct {
	client *treestore.Client
	equal  EqualFunc
	logger *slog.Logger
}

// New returns an Inserter writing through client.
func New(client *treestore.Client, opts Options) *Inserter {
	in := &Inserter{
		client: client,
		equal:  opts.Equal,
		logger: logging.OrDiscard(opts.Logger),
	}
	if in.equal == nil {
		in.equal = SameCoordinates
	}
	return in
}

// Records returns the well-formed records stored under collection, keyed by
// child name. Entries without both coordinates, or whose coordinates are not
// JSON numbers, are left out and so never count as duplicates; each one is
// logged at warn level.
func (in *Inserter) Records(ctx context.Context, collection string) (map[string]Record, error) {
	node, err := in.client.Get(ctx, collection)
	if err != nil {
		return nil, treestore.NewError("exists", treestore.KindCheckFailed, collection, err)
	}
	if node == nil {
		return map[string]Record{}, nil
	}
	children, err := entries(node.Value)
	if err != nil {
		return nil, treestore.NewError("exists", treestore.KindCheckFailed, collection, err)
	}

	records := make(map[string]Record, len(children))
	for key, raw := range children {
		var s stored
		if err := json.Unmarshal(raw, &s); err != nil {
			in.logger.Warn("ignoring undecodable entry", "collection", collection, "key", key, "error", err)
			continue
		}
		if err := validate.Struct(s); err != nil {
			in.logger.Warn("ignoring entry without coordinates", "collection", collection, "key", key)
			continue
		}
		records[key] = s.record()
	}
	return records, nil
}

// Exists reports whether collection already holds a record equal to r. A
// failed read returns ErrCheckFailed, never false.
func (in *Inserter) Exists(ctx context.Context, r Record, collection string) (bool, error) {
	records, err := in.Records(ctx, collection)
	if err != nil {
		return false, err
	}
	for _, existing := range records {
		if in.equal(existing, r) {
			return true, nil
		}
	}
	return false, nil
}

// Insert appends r to collection unless an equal record exists. It returns
// the generated key when the record was inserted. When the duplicate check
// fails nothing is written.
func (in *Inserter) Insert(ctx context.Context, r Record, collection string) (Outcome, string, error) {
	exists, err := in.Exists(ctx, r, collection)
	if err != nil {
		return 0, "", err
	}
	if exists {
		in.logger.Info("record skipped", "collection", collection, "latitude", r.Latitude, "longitude", r.Longitude)
		return Skipped, "", nil
	}
	key, err := in.client.Post(ctx, collection, r)
	if err != nil {
		return 0, "", err
	}
	in.logger.Info("record inserted", "collection", collection, "key", key, "latitude", r.Latitude, "longitude", r.Longitude)
	return Inserted, key, nil
}

// entries splits a collection into its children. The store returns arrays
// for collections whose keys are all small integers, so both shapes count.
func entries(raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty collection body")
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}
		return obj, nil
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}
		obj := make(map[string]json.RawMessage, len(arr))
		for i, item := range arr {
			obj[fmt.Sprint(i)] = item
		}
		return obj, nil
	default:
		return nil, errors.New("collection is not an object or array")
	}
}
