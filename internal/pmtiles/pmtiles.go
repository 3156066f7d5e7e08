// Package pmtiles writes single-directory PMTiles v3 archives.
//
// Header and directory encoding follow github.com/protomaps/go-pmtiles
// (BSD-3-Clause), reduced to what a clustered, gzip-compressed MVT archive
// needs. Spec: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
)

// ErrNoTiles is returned when an archive would be empty.
var ErrNoTiles = errors.New("no tiles to write")

// Compression is the compression algorithm applied to individual tiles.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
)

// TileType is the format of individual tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
)

// HeaderV3LenBytes is the fixed-size binary header.
const HeaderV3LenBytes = 127

// HeaderV3 is a binary header for PMTiles v3.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// EntryV3 is an entry in a PMTiles v3 directory.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// Tile is one encoded tile addressed by z/x/y.
type Tile struct {
	Z    uint8
	X, Y uint32
	Data []byte
}

// Archive describes the archive-level fields of a written file.
type Archive struct {
	Name             string
	MinZoom, MaxZoom uint8
	// Bounds in degrees: min lon, min lat, max lon, max lat.
	Bounds [4]float64
	// Metadata is merged into the JSON metadata block.
	Metadata map[string]any
}

// ZxyToID converts (Z,X,Y) tile coordinates to a Hilbert TileID.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	var acc uint64 = (1<<(z*2) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1 << n); s > 0; s >>= 1 {
		var rx = s & x
		var ry = s & y
		acc += uint64((3*rx)^ry) << n
		x, y = rotate(s, x, y, rx, ry)
		n--
	}
	return acc
}

func rotate(n uint32, x uint32, y uint32, rx uint32, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx != 0 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

// SerializeHeader converts a header to bytes.
func SerializeHeader(header HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b[0:7], "PMTiles")

	b[7] = 3
	le := binary.LittleEndian
	le.PutUint64(b[8:16], header.RootOffset)
	le.PutUint64(b[16:24], header.RootLength)
	le.PutUint64(b[24:32], header.MetadataOffset)
	le.PutUint64(b[32:40], header.MetadataLength)
	le.PutUint64(b[40:48], header.LeafDirectoryOffset)
	le.PutUint64(b[48:56], header.LeafDirectoryLength)
	le.PutUint64(b[56:64], header.TileDataOffset)
	le.PutUint64(b[64:72], header.TileDataLength)
	le.PutUint64(b[72:80], header.AddressedTilesCount)
	le.PutUint64(b[80:88], header.TileEntriesCount)
	le.PutUint64(b[88:96], header.TileContentsCount)
	if header.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(header.InternalCompression)
	b[98] = uint8(header.TileCompression)
	b[99] = uint8(header.TileType)
	b[100] = header.MinZoom
	b[101] = header.MaxZoom
	le.PutUint32(b[102:106], uint32(header.MinLonE7))
	le.PutUint32(b[106:110], uint32(header.MinLatE7))
	le.PutUint32(b[110:114], uint32(header.MaxLonE7))
	le.PutUint32(b[114:118], uint32(header.MaxLatE7))
	b[118] = header.CenterZoom
	le.PutUint32(b[119:123], uint32(header.CenterLonE7))
	le.PutUint32(b[123:127], uint32(header.CenterLatE7))
	return b
}

// DeserializeHeader parses a binary header.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	h := HeaderV3{}
	if len(d) < HeaderV3LenBytes {
		return h, errors.New("buffer too small for header")
	}
	if string(d[0:7]) != "PMTiles" {
		return h, errors.New("magic number not detected")
	}

	le := binary.LittleEndian
	h.SpecVersion = d[7]
	h.RootOffset = le.Uint64(d[8:16])
	h.RootLength = le.Uint64(d[16:24])
	h.MetadataOffset = le.Uint64(d[24:32])
	h.MetadataLength = le.Uint64(d[32:40])
	h.LeafDirectoryOffset = le.Uint64(d[40:48])
	h.LeafDirectoryLength = le.Uint64(d[48:56])
	h.TileDataOffset = le.Uint64(d[56:64])
	h.TileDataLength = le.Uint64(d[64:72])
	h.AddressedTilesCount = le.Uint64(d[72:80])
	h.TileEntriesCount = le.Uint64(d[80:88])
	h.TileContentsCount = le.Uint64(d[88:96])
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(le.Uint32(d[102:106]))
	h.MinLatE7 = int32(le.Uint32(d[106:110]))
	h.MaxLonE7 = int32(le.Uint32(d[110:114]))
	h.MaxLatE7 = int32(le.Uint32(d[114:118]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(le.Uint32(d[119:123]))
	h.CenterLatE7 = int32(le.Uint32(d[123:127]))
	return h, nil
}

// SerializeEntries encodes a directory and gzips it.
func SerializeEntries(entries []EntryV3) ([]byte, error) {
	var b bytes.Buffer
	w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
	if err != nil {
		return nil, err
	}

	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		_, _ = w.Write(tmp[:n])
	}

	put(uint64(len(entries)))
	lastID := uint64(0)
	for _, e := range entries {
		put(e.TileID - lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// SerializeMetadata gzips the JSON metadata block.
func SerializeMetadata(metadata map[string]any) ([]byte, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	w, err := gzip.NewWriterLevel(&b, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Write encodes tiles as a clustered archive with a single root directory.
// Tile data must already be gzip-compressed MVT.
func Write(w io.Writer, tiles []Tile, a Archive) error {
	if len(tiles) == 0 {
		return ErrNoTiles
	}

	type indexed struct {
		id   uint64
		data []byte
	}
	sorted := make([]indexed, len(tiles))
	for i, t := range tiles {
		sorted[i] = indexed{id: ZxyToID(t.Z, t.X, t.Y), data: t.Data}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	entries := make([]EntryV3, 0, len(sorted))
	var tileData bytes.Buffer
	for _, t := range sorted {
		entries = append(entries, EntryV3{
			TileID:    t.id,
			Offset:    uint64(tileData.Len()),
			Length:    uint32(len(t.data)),
			RunLength: 1,
		})
		tileData.Write(t.data)
	}

	meta := map[string]any{
		"name":        a.Name,
		"format":      "pbf",
		"compression": "gzip",
		"minzoom":     a.MinZoom,
		"maxzoom":     a.MaxZoom,
	}
	for k, v := range a.Metadata {
		meta[k] = v
	}
	metaBytes, err := SerializeMetadata(meta)
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}
	rootBytes, err := SerializeEntries(entries)
	if err != nil {
		return fmt.Errorf("serializing directory: %w", err)
	}

	rootOffset := uint64(HeaderV3LenBytes)
	metaOffset := rootOffset + uint64(len(rootBytes))
	dataOffset := metaOffset + uint64(len(metaBytes))

	header := HeaderV3{
		SpecVersion:         3,
		RootOffset:          rootOffset,
		RootLength:          uint64(len(rootBytes)),
		MetadataOffset:      metaOffset,
		MetadataLength:      uint64(len(metaBytes)),
		TileDataOffset:      dataOffset,
		TileDataLength:      uint64(tileData.Len()),
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     Gzip,
		TileType:            Mvt,
		MinZoom:             a.MinZoom,
		MaxZoom:             a.MaxZoom,
		MinLonE7:            e7(a.Bounds[0]),
		MinLatE7:            e7(a.Bounds[1]),
		MaxLonE7:            e7(a.Bounds[2]),
		MaxLatE7:            e7(a.Bounds[3]),
		CenterZoom:          a.MinZoom,
		CenterLonE7:         e7((a.Bounds[0] + a.Bounds[2]) / 2),
		CenterLatE7:         e7((a.Bounds[1] + a.Bounds[3]) / 2),
	}

	for _, part := range [][]byte{SerializeHeader(header), rootBytes, metaBytes, tileData.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func e7(deg float64) int32 {
	return int32(math.Round(deg * 1e7))
}
