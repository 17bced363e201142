package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when embedding dimensions don't match collection dimensions
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ReceivedDimension int
	SuggestedAction   string
}

func (e DimensionMismatchError) Error() string {
	msg := fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d",
		e.Collection, e.ExpectedDimension, e.ReceivedDimension)
	if e.SuggestedAction != "" {
		msg += ". " + e.SuggestedAction
	}
	return msg
}

// ValidateEmbeddingDimensions checks the collection against the configured
// dimension. A collection that does not exist yet passes.
func (c *QdrantCorpus) ValidateEmbeddingDimensions(ctx context.Context) error {
	expected := c.cfg.ExpectedEmbeddingDim
	if expected <= 0 {
		return nil
	}
	info, err := c.getCollectionInfo(ctx)
	if err != nil {
		c.log.Warn("Failed to get collection info during validation", zap.Error(err))
		return err
	}
	if info == nil {
		return nil
	}
	if info.VectorSize != expected {
		return DimensionMismatchError{
			Collection:        c.collection,
			ExpectedDimension: expected,
			ReceivedDimension: info.VectorSize,
			SuggestedAction:   "Check embedding model configuration or recreate collection with correct dimensions",
		}
	}
	c.log.Info("Collection dimension validated",
		zap.String("collection", c.collection),
		zap.Int("dimension", info.VectorSize))
	return nil
}

// CollectionInfo holds basic information about a Qdrant collection
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}

// getCollectionInfo returns nil, nil when the collection does not exist.
func (c *QdrantCorpus) getCollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	resp, err := c.call(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.base, c.collection), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int64  `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &CollectionInfo{
		Name:        c.collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}
