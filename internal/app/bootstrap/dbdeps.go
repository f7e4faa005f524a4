// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/stratadrive/internal/app/store/ratelimit"
	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database and backend dependencies for this WAFFLE app.
//
// It is created in ConnectDB and passed to EnsureSchema, Startup,
// BuildHandler and Shutdown. Shutdown closes what it holds.
type DBDeps struct {
	// MongoDB client and database
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Blobs holds file content and derived artifacts (local disk or S3).
	Blobs blobstore.Store

	// Engine owns every file and folder state change.
	Engine *lifecycle.Engine

	// ShareGuard throttles clients that guess share tokens.
	ShareGuard *ratelimit.Store
}
