package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mamadbah2/gymledger/internal/repository/docstore"
)

func TestToBSONMergesRangeOnSameField(t *testing.T) {
	filter := docstore.Where("year", docstore.OpGte, 2023).
		And("year", docstore.OpLte, 2024).
		And("status", docstore.OpEq, "pending")

	got := toBSON(filter)
	require.Len(t, got, 2)

	assert.Equal(t, "year", got[0].Key)
	assert.Equal(t, bson.D{{Key: "$gte", Value: 2023}, {Key: "$lte", Value: 2024}}, got[0].Value)
	assert.Equal(t, "status", got[1].Key)
	assert.Equal(t, bson.D{{Key: "$eq", Value: "pending"}}, got[1].Value)

	assert.Empty(t, toBSON(nil))
}

func TestToDocumentNormalizesDriverTypes(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	oid := primitive.NewObjectID()
	dec, err := primitive.ParseDecimal128("12.50")
	require.NoError(t, err)

	doc := toDocument(bson.M{
		"_id":       oid,
		"timestamp": primitive.NewDateTimeFromTime(at),
		"amount":    dec,
		"tags":      bson.A{"a", primitive.NewDateTimeFromTime(at)},
		"nested":    bson.M{"n": int32(3)},
	})

	assert.Equal(t, oid.Hex(), doc.ID())
	assert.True(t, at.Equal(doc["timestamp"].(time.Time)))
	assert.Equal(t, 12.5, doc["amount"])
	tags, ok := doc["tags"].([]any)
	require.True(t, ok)
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0])
	assert.True(t, at.Equal(tags[1].(time.Time)))
	assert.Equal(t, map[string]any{"n": int32(3)}, doc["nested"])
}
