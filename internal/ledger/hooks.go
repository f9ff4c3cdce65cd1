// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ledger

import (
	"context"
	"time"

	"github.com/agentmesh/checkpointd/pkg/log"
)

// Hooks satisfies the sqlhooks.Hooks interface, logging every query the
// ledger issues and the time it took.
type Hooks struct{}

// Before hook will print the query with its args and return the context
// with the timestamp.
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("ledger query %s %q", query, args)
	return context.WithValue(ctx, "begin", time.Now()), nil
}

// After hook will get the timestamp registered on the Before hook and
// print the elapsed time.
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin := ctx.Value("begin").(time.Time)
	log.Debugf("Took: %s\n", time.Since(begin))
	return ctx, nil
}
