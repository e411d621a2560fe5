package reference

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kailas-cloud/vecguard/internal/db"
	"github.com/kailas-cloud/vecguard/internal/domain"
)

const (
	fieldLabel     = "label"
	fieldKind      = "content_kind"
	fieldCreatedAt = "created_at"
	fieldGrams     = "label_grams"
	fieldVector    = "__vector"

	gramSeparator = ","
	// maxQueryGrams bounds the tag clauses of one label query; the
	// client-side substring check keeps the result exact.
	maxQueryGrams = 8
)

// Key patterns: vecguard:ref:{collection}:{id}, vecguard:ref:{collection}:idx

func itemPrefix(collection string) string {
	return fmt.Sprintf("%sref:%s:", domain.KeyPrefix, collection)
}

func itemKey(collection, id string) string {
	return itemPrefix(collection) + id
}

func indexName(collection string) string {
	return fmt.Sprintf("%sref:%s:idx", domain.KeyPrefix, collection)
}

// buildIndex defines the HASH index over reference items: a TAG for content
// kind, a TAG of label grams, a numeric timestamp and an HNSW cosine vector field.
func buildIndex(collection string, dim int, hnsw HNSWConfig) *db.IndexDefinition {
	return &db.IndexDefinition{
		Name:        indexName(collection),
		StorageType: db.StorageHash,
		Prefixes:    []string{itemPrefix(collection)},
		Fields: []db.IndexField{
			{Name: fieldKind, Type: db.IndexFieldTag},
			{Name: fieldGrams, Type: db.IndexFieldTag, TagSeparator: gramSeparator},
			{Name: fieldCreatedAt, Type: db.IndexFieldNumeric},
			{
				Name:              fieldVector,
				Alias:             "vector",
				Type:              db.IndexFieldVector,
				VectorAlgo:        db.VectorHNSW,
				VectorDim:         dim,
				VectorDistance:    db.DistanceCosine,
				VectorM:           hnsw.M,
				VectorEFConstruct: hnsw.EFConstruct,
			},
		},
	}
}

// encodeGrams renders the label grams as a tag list. Grams are hex encoded so
// that no label character needs tag query escaping.
func encodeGrams(label string) string {
	grams := domain.LabelGrams(label)
	for i, g := range grams {
		grams[i] = hex.EncodeToString([]byte(g))
	}
	return strings.Join(grams, gramSeparator)
}

// labelQuery selects items carrying every gram of token, or all items when
// the token is too short to have grams.
func labelQuery(token string) string {
	grams := domain.LabelGrams(token)
	if len(grams) == 0 {
		return "*"
	}
	if len(grams) > maxQueryGrams {
		grams = grams[:maxQueryGrams]
	}
	clauses := make([]string, len(grams))
	for i, g := range grams {
		clauses[i] = fmt.Sprintf("@%s:{%s}", fieldGrams, hex.EncodeToString([]byte(g)))
	}
	return strings.Join(clauses, " ")
}
