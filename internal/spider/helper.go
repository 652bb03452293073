package spider

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// ParseFunc is the shape of a spider's actual extraction logic: given the
// fetched response, produce the data to persist and the follow-up requests
// to continue crawling with.
type ParseFunc func(resp *model.Response) (model.ParsedData, []model.Request, error)

// DefaultProcessResponse runs fn over resp, stores whatever ParsedData it
// returns under the data category, and translates the outcome into a
// ParseResult — letting most spiders implement ProcessResponse as a single
// call to this helper instead of repeating the store-then-continue
// boilerplate original_source's per-spider parse() methods each rewrote.
func DefaultProcessResponse(ctx context.Context, s Spider, resp Response, fn ParseFunc) (model.ParseResult, error) {
	data, next, err := fn(resp.Response)
	if err != nil {
		return model.ParseResult{}, &model.ParsingError{Msg: err.Error()}
	}

	if data.Kind != model.DataEmpty {
		if storeErr := storeParsedData(ctx, s, resp.Response.URL, data); storeErr != nil {
			return model.ParseResult{}, storeErr
		}
	}

	return model.Continue(next...), nil
}

func storeParsedData(ctx context.Context, s Spider, url string, data model.ParsedData) error {
	switch data.Kind {
	case model.DataItem:
		return storeOne(ctx, s, url, data.Item)
	case model.DataItems:
		for _, item := range data.Items {
			if err := storeOne(ctx, s, url, item); err != nil {
				return err
			}
		}
		return nil
	case model.DataRaw:
		return storeOne(ctx, s, url, data.Raw)
	default:
		return nil
	}
}

func storeOne(ctx context.Context, s Spider, url string, payload any) error {
	id, err := uuid.NewV7()
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: err.Error()}
	}

	item := model.StorageItem[any]{
		URL:       url,
		Timestamp: time.Now(),
		Data:      payload,
		ID:        id.String(),
	}

	return s.StoreData(ctx, item, model.DataCategory(), model.NewRequest(url))
}
