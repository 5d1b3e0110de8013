package persistence

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMongoDB_EnsureIndexes(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "entry_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}

	mt.Run("creates indexes", func(mt *mtest.T) {
		mdb := &MongoDB{logger: logger, database: mt.DB}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := mdb.EnsureIndexes(context.Background(), "ledger_audit", models)
		assert.NoError(mt, err)
		assert.Equal(mt, mt.DB, mdb.Database())
	})

	mt.Run("server error", func(mt *mtest.T) {
		mdb := &MongoDB{logger: logger, database: mt.DB}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    85,
			Name:    "IndexOptionsConflict",
			Message: "index options conflict",
		}))

		err := mdb.EnsureIndexes(context.Background(), "ledger_audit", models)
		assert.ErrorContains(mt, err, "failed to create indexes on ledger_audit")
	})

	mt.Run("no models is a no-op", func(mt *mtest.T) {
		mdb := &MongoDB{logger: logger, database: mt.DB}
		assert.NoError(mt, mdb.EnsureIndexes(context.Background(), "ledger_audit", nil))
	})
}

func TestMongoDB_CloseWithoutClient(t *testing.T) {
	mdb := &MongoDB{logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}
	assert.NoError(t, mdb.Close(context.Background()))
}
