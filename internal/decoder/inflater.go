package decoder

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Inflater owns the zstandard decompression resource used by the EPT decode
// path. The underlying decoder is created on first use and lives until Close,
// so one instance is shared by all decodes of a streamer instead of being
// ambient process state.
type Inflater struct {
	mu     sync.Mutex
	dec    *zstd.Decoder
	closed bool
}

func NewInflater() *Inflater {
	return &Inflater{}
}

func (i *Inflater) Inflate(src []byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, errors.New("inflater closed")
	}
	if i.dec == nil {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, errors.Wrap(err, "initializing zstd decoder")
		}
		i.dec = dec
	}

	out, err := i.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, errors.Wrap(err, "inflating zstandard payload")
	}
	return out, nil
}

func (i *Inflater) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dec != nil {
		i.dec.Close()
		i.dec = nil
	}
	i.closed = true
}
