// Package service contains the data-access services the UI layer calls. Every
// remote call is translated through package convert and reported into the
// sync engine.
package service

import (
	"context"
	"fmt"

	"github.com/and161185/carecard/internal/convert"
	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/repository"
)

// Tracker reports one remote operation into the sync indicator.
// It is implemented by *syncstatus.Engine.
type Tracker interface {
	Track(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

// Collection is typed CRUD over one remote table.
// C is the canonical shape, R the remote row.
type Collection[C, R any] struct {
	name       model.Collection
	table      repository.Table[R]
	sync       Tracker
	toRemote   func(C) R
	fromRemote func(R) C
}

func newCollection[C, R any](
	name model.Collection, table repository.Table[R], sync Tracker,
	to func(C) R, from func(R) C,
) *Collection[C, R] {
	return &Collection[C, R]{name: name, table: table, sync: sync, toRemote: to, fromRemote: from}
}

// List returns every record matching f (remote column names).
func (c *Collection[C, R]) List(ctx context.Context, f repository.Filter) ([]C, error) {
	var out []C
	err := c.sync.Track(ctx, "select "+string(c.name), func(ctx context.Context) error {
		rows, err := c.table.Select(ctx, f)
		if err != nil {
			return err
		}
		out = convert.FromRemoteAll(rows, c.fromRemote)
		return nil
	})
	return out, err
}

// Get returns the record with id.
func (c *Collection[C, R]) Get(ctx context.Context, id string) (C, error) {
	var zero C
	if id == "" {
		return zero, fmt.Errorf("get %s: empty id: %w", c.name, errs.ErrInvalidArgument)
	}
	rows, err := c.List(ctx, repository.Filter{"id": id})
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%s %s: %w", c.name, id, errs.ErrNotFound)
	}
	return rows[0], nil
}

// Create inserts rec and returns it as stored.
func (c *Collection[C, R]) Create(ctx context.Context, rec C) (C, error) {
	var out C
	err := c.sync.Track(ctx, "insert "+string(c.name), func(ctx context.Context) error {
		row, err := c.table.Insert(ctx, c.toRemote(rec))
		if err != nil {
			return err
		}
		out = c.fromRemote(row)
		return nil
	})
	return out, err
}

// Update sets remote columns on the record with id.
func (c *Collection[C, R]) Update(ctx context.Context, id string, partial map[string]any) error {
	return c.sync.Track(ctx, "update "+string(c.name), func(ctx context.Context) error {
		return c.table.Update(ctx, id, partial)
	})
}

// Delete removes the record with id.
func (c *Collection[C, R]) Delete(ctx context.Context, id string) error {
	return c.sync.Track(ctx, "delete "+string(c.name), func(ctx context.Context) error {
		return c.table.Delete(ctx, id)
	})
}

// touch reads the whole table and discards it.
func (c *Collection[C, R]) touch(ctx context.Context) error {
	if _, err := c.table.Select(ctx, nil); err != nil {
		return fmt.Errorf("touch %s: %w", c.name, err)
	}
	return nil
}
