package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/grove/drivers/mongodriver/mongomigrate"
	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the getanswer collection.
var Migrations = migrate.NewGroup("getanswer")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_getanswer_kv_indexes",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				mexec, ok := exec.(*mongomigrate.Executor)
				if !ok {
					return fmt.Errorf("getanswer/mongo: unexpected migration executor %T", exec)
				}
				return mexec.CreateIndexes(ctx, colKV, []mongo.IndexModel{
					{Keys: bson.D{{Key: "updated_at", Value: -1}}},
				})
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				mexec, ok := exec.(*mongomigrate.Executor)
				if !ok {
					return fmt.Errorf("getanswer/mongo: unexpected migration executor %T", exec)
				}
				return mexec.DB().Collection(colKV).Drop(ctx)
			},
		},
	)
}
