// Package txn runs multi-collection lifecycle changes (file plus version plus
// quota, folder cascades) inside a MongoDB transaction.
//
// Standalone servers and some DocumentDB setups cannot run transactions. On
// those the work runs without one, and the first such failure is remembered
// per client so later calls skip straight to the plain path.
package txn

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Func is one unit of transactional work. ctx is a mongo.SessionContext when a
// transaction is open and the caller's context otherwise.
type Func func(ctx context.Context) error

// unsupported records clients whose deployment rejected a transaction.
var unsupported sync.Map // *mongo.Client -> struct{}

// Run executes fn in a transaction, or directly when the deployment cannot
// run one. fn must be safe to run without isolation.
func Run(ctx context.Context, db *mongo.Database, log *zap.Logger, fn Func) error {
	return RunWithFallback(ctx, db, log, fn, fn)
}

// RunWithFallback executes txnFn in a transaction. When the deployment cannot
// run one, fallbackFn runs instead; it is expected to undo its own partial
// writes on failure.
func RunWithFallback(ctx context.Context, db *mongo.Database, log *zap.Logger, txnFn, fallbackFn Func) error {
	client := db.Client()
	if _, known := unsupported.Load(client); known {
		return fallbackFn(ctx)
	}

	session, err := client.StartSession()
	if err != nil {
		warn(log, "mongo session unavailable, writing without transaction", err)
		return fallbackFn(ctx)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, txnFn(sc)
	})
	if err == nil {
		return nil
	}
	if !IsNotSupported(err) {
		return err
	}

	unsupported.Store(client, struct{}{})
	warn(log, "transactions unsupported by deployment, writing without transaction", err)
	return fallbackFn(ctx)
}

func warn(log *zap.Logger, msg string, err error) {
	if log != nil {
		log.Warn(msg, zap.Error(err))
	}
}

// IsNotSupported reports whether err means the deployment cannot run
// multi-document transactions.
//
//	20   IllegalOperation: transaction numbers need a replica set or mongos
//	51   IllegalOperation on older servers
//	263  OperationNotSupportedInTransaction
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 20, 51, 263:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "transaction") {
		return false
	}
	for _, hint := range []string{"replica set", "mongos", "not supported", "illegal operation"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
