package server

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/xob0t/gosteg/pkg/carrier"
	"github.com/xob0t/gosteg/pkg/lsb"
)

// storedCarrier is an uploaded carrier kept in its encoded form. Every request
// decodes its own copy, so concurrent encodes never share a sample buffer.
type storedCarrier struct {
	Name     string
	Data     []byte
	Format   carrier.Format
	Geometry lsb.Geometry
	Added    time.Time
}

type carrierInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Format     string `json:"format"`
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
	Channels   uint8  `json:"channels"`
	BitDepth   uint8  `json:"bit_depth"`
	Capacity   uint64 `json:"capacity"`
	MaxPayload uint64 `json:"max_payload"`
	Size       int    `json:"size"`
}

func (sc *storedCarrier) info(id string) carrierInfo {
	return carrierInfo{
		ID:         id,
		Name:       sc.Name,
		Format:     string(sc.Format),
		Width:      sc.Geometry.Width,
		Height:     sc.Geometry.Height,
		Channels:   sc.Geometry.Channels,
		BitDepth:   sc.Geometry.BitDepth,
		Capacity:   lsb.Capacity(sc.Geometry),
		MaxPayload: lsb.MaxPayload(sc.Geometry),
		Size:       len(sc.Data),
	}
}

// carrierStore holds uploaded carriers keyed by the xxhash of their bytes, so
// uploading the same file twice yields the same ID.
type carrierStore struct {
	mu       sync.RWMutex
	carriers map[string]*storedCarrier
	limit    int
}

func newCarrierStore(limit int) *carrierStore {
	return &carrierStore{carriers: make(map[string]*storedCarrier), limit: limit}
}

func contentID(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// add validates data as a carrier and stores it.
func (cs *carrierStore) add(name string, data []byte) (string, *storedCarrier, error) {
	im, err := carrier.Decode(bytes.NewReader(data))
	if err != nil {
		return "", nil, err
	}
	id := contentID(data)
	sc := &storedCarrier{
		Name:     name,
		Data:     data,
		Format:   im.Format,
		Geometry: im.Geometry,
		Added:    time.Now(),
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if old, ok := cs.carriers[id]; ok {
		return id, old, nil
	}
	if cs.limit > 0 && len(cs.carriers) >= cs.limit {
		return "", nil, fmt.Errorf("carrier store is full (%d entries)", cs.limit)
	}
	cs.carriers[id] = sc
	return id, sc, nil
}

func (cs *carrierStore) get(id string) (*storedCarrier, bool) {
	cs.mu.RLock()
	sc, ok := cs.carriers[id]
	cs.mu.RUnlock()
	return sc, ok
}

// list returns every carrier, oldest first.
func (cs *carrierStore) list() []carrierInfo {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	result := make([]carrierInfo, 0, len(cs.carriers))
	for id, sc := range cs.carriers {
		result = append(result, sc.info(id))
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := cs.carriers[result[i].ID], cs.carriers[result[j].ID]
		if !a.Added.Equal(b.Added) {
			return a.Added.Before(b.Added)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (cs *carrierStore) remove(id string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.carriers[id]; !ok {
		return false
	}
	delete(cs.carriers, id)
	return true
}
