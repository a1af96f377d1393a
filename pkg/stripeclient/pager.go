package stripeclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

const pageSize = 100

// errEmptyPage is returned when the processor claims more results but
// delivered none, which would otherwise loop forever on the same cursor.
var errEmptyPage = errors.New("processor reported more results after an empty page")

// pageFunc fetches one page starting after the given cursor ("" for the first page).
type pageFunc[T any] func(ctx context.Context, startingAfter string) (items []T, hasMore bool, err error)

// drain follows the cursor until the processor reports no more pages. A
// failure on any page fails the whole listing; partial results are never
// returned.
func drain[T any](ctx context.Context, fetch pageFunc[T], idOf func(T) string) ([]T, error) {
	var all []T
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, hasMore, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if !hasMore {
			return all, nil
		}
		if len(items) == 0 {
			return nil, errEmptyPage
		}
		cursor = idOf(items[len(items)-1])
	}
}

// pageIterator is the subset of the stripe list iterators used here.
type pageIterator interface {
	Next() bool
	Current() interface{}
	Err() error
	Meta() *stripe.ListMeta
}

// collect reads a single-page iterator.
func collect[T any](it pageIterator) ([]T, bool, error) {
	var items []T
	for it.Next() {
		item, ok := it.Current().(T)
		if !ok {
			return nil, false, fmt.Errorf("unexpected list item type %T", it.Current())
		}
		items = append(items, item)
	}
	if err := it.Err(); err != nil {
		return nil, false, wrapError(err)
	}
	meta := it.Meta()
	return items, meta != nil && meta.HasMore, nil
}

// searchIterator is the subset of the stripe search iterators used here.
type searchIterator interface {
	Next() bool
	Current() interface{}
	Err() error
}

// collectAll reads a search iterator to the end. Search results are paged by
// an opaque token that the iterator follows itself; any page failure fails
// the whole result.
func collectAll[T any](it searchIterator) ([]T, error) {
	var items []T
	for it.Next() {
		item, ok := it.Current().(T)
		if !ok {
			return nil, fmt.Errorf("unexpected search item type %T", it.Current())
		}
		items = append(items, item)
	}
	if err := it.Err(); err != nil {
		return nil, wrapError(err)
	}
	return items, nil
}

// singlePage configures list params to fetch exactly one page.
func singlePage(ctx context.Context, p *stripe.ListParams, startingAfter string) {
	p.Context = ctx
	p.Single = true
	p.Limit = stripe.Int64(pageSize)
	if startingAfter != "" {
		p.StartingAfter = stripe.String(startingAfter)
	}
}
