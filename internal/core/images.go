package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/storeops/bulkops/internal/batch"
	"github.com/storeops/bulkops/internal/history"
	"github.com/storeops/bulkops/internal/models"
	"github.com/storeops/bulkops/internal/remote"
)

// ImageUpload is a pre-matched set of media for one SKU. Matching archive
// folders to SKUs happens before this point.
type ImageUpload struct {
	SKU        string                `json:"sku"`
	ProductID  string                `json:"product_id"`
	Title      string                `json:"title,omitempty"`
	VariantIDs []string              `json:"variant_ids,omitempty"`
	Sources    []*remote.ImageSource `json:"sources"`
}

// UploadImages creates one product image per source. Uploads are recorded
// with file_restore rollback, which is not supported: created media must be
// removed by hand.
func (s *Service) UploadImages(ctx context.Context, uploads []*ImageUpload, obs *batch.Observer) (*BatchOutcome, error) {
	return s.uploadImages(ctx, uploads, "", obs)
}

func (s *Service) uploadImages(ctx context.Context, uploads []*ImageUpload, retryOf string, obs *batch.Observer) (*BatchOutcome, error) {
	sources := make(map[*models.Item]*remote.ImageSource)
	var items []*models.Item
	for _, u := range uploads {
		if u.ProductID == "" {
			return nil, invalid("product_id", "upload for %q has no product", u.SKU)
		}
		for i, src := range u.Sources {
			if src == nil || (src.Src == "" && len(src.Attachment) == 0) {
				return nil, invalid("sources", "source %d of %q is empty", i, u.SKU)
			}
			if len(src.VariantIDs) == 0 {
				src.VariantIDs = u.VariantIDs
			}
			item := &models.Item{
				ID:       fmt.Sprintf("%s#%d:%s", u.ProductID, i+1, src.Ref()),
				ParentID: u.ProductID,
				SKU:      u.SKU,
				Title:    u.Title,
				Target:   models.Values{models.FieldImageSrc: src.Ref()},
			}
			sources[item] = src
			items = append(items, item)
		}
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		img, err := s.client.CreateProductImage(ctx, item.ParentID, sources[item])
		if err != nil {
			return nil, err
		}
		return models.Values{
			models.FieldImageSrc: item.Target[models.FieldImageSrc],
			models.FieldImageID:  img.ID,
		}, nil
	}

	return s.run(ctx, items, fn, history.BulkRequest{
		OperationType: models.OpImageUpload,
		Description:   fmt.Sprintf("Image upload: %d images for %d SKUs", len(items), len(uploads)),
		RollbackType:  models.RollbackFileRestore,
		Payload: func(r *models.ItemResult) models.RollbackPayload {
			return models.MediaPayload{
				ProductID: r.Item.ParentID,
				ImageIDs:  []string{r.NewValues[models.FieldImageID]},
			}
		},
		Data: models.OperationData{RetryOf: retryOf},
	}, obs)
}

// retryImageSource rebuilds the source of a failed upload. Only URL sources
// can be re-sent; file attachments are not kept in history.
func retryImageSource(e *models.HistoryEntry) (*remote.ImageSource, error) {
	ref := e.OperationData.NewValues[models.FieldImageSrc]
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return &remote.ImageSource{Src: ref}, nil
	}
	return nil, invalid("sources", "attachment %q cannot be retried from history; upload it again", ref)
}
