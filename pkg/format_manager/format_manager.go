package format_manager

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/ecopia-map/cloud_stream/internal/decoder"
	"github.com/ecopia-map/cloud_stream/internal/fetch"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy/copc_store"
	"github.com/ecopia-map/cloud_stream/internal/hierarchy/ept_store"
)

var ErrUnsupportedDataset = errors.New("unsupported dataset format")

// FormatManager picks the hierarchy store matching the dataset behind a
// locator. The choice is made once, at initialization.
type FormatManager interface {
	GetHierarchyStore(ctx context.Context, locator string, fetcher fetch.Fetcher) (hierarchy.Store, error)
}

type StandardFormatManager struct {
	// optional decoder for laszip compressed payloads, injected through to
	// whichever store is selected
	lazDecoder decoder.BatchDecoder
}

func NewStandardFormatManager(lazDecoder decoder.BatchDecoder) FormatManager {
	return &StandardFormatManager{lazDecoder: lazDecoder}
}

// GetHierarchyStore returns the EPT store for ept.json locators and the COPC
// store for LAS sources, sniffed by magic when the extension is ambiguous
func (m *StandardFormatManager) GetHierarchyStore(ctx context.Context, locator string, fetcher fetch.Fetcher) (hierarchy.Store, error) {
	lower := strings.ToLower(locator)
	if strings.HasSuffix(lower, "ept.json") || strings.HasSuffix(lower, ".json") {
		return ept_store.NewEptStore(fetcher, decoder.NewInflater(), m.lazDecoder), nil
	}
	if strings.HasSuffix(lower, ".las") || strings.HasSuffix(lower, ".laz") || strings.HasSuffix(lower, ".copc.laz") {
		return copc_store.NewCopcStore(fetcher, m.lazDecoder), nil
	}

	magic, err := fetcher.FetchRange(ctx, "", 0, 4)
	if err != nil {
		return nil, errors.Wrapf(err, "probing dataset [%s]", locator)
	}
	if string(magic) == "LASF" {
		return copc_store.NewCopcStore(fetcher, m.lazDecoder), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedDataset, "[%s]", locator)
}
