package twoskip

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/aalhour/twoskipdb/internal/logging"
	"github.com/aalhour/twoskipdb/internal/retryopen"
	"github.com/aalhour/twoskipdb/internal/valuecodec"
)

// Flag is a bitmask of recognized open flags (spec §6.3).
type Flag uint32

const (
	// FlagCreate creates the file if it does not already exist.
	FlagCreate Flag = 1 << iota
	// FlagMboxSort selects the mailbox-aware comparator instead of raw
	// lexicographic byte comparison.
	FlagMboxSort
)

// Tunables from spec §6.3.
const (
	MinRewriteDefault   = 16384
	RewriteRatioDefault = 0.2
	MaxLevel            = 31
	ProbDefault         = 0.5
	Version             = 1
)

// Options configures Open. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	Flags            Flag
	MailboxSeparator byte

	// Logger receives the engine's leveled log lines (SPEC_FULL.md §7.1).
	Logger logging.Logger

	// Compression and CompressionMinSize configure the value codec
	// (SPEC_FULL.md §3.2). Values shorter than CompressionMinSize are
	// never compressed.
	Compression        valuecodec.Type
	CompressionMinSize int

	// BloomFilter enables the negative-lookup accelerator
	// (SPEC_FULL.md §4.11) once the file holds at least
	// BloomFilterMinRecords live records.
	BloomFilter              bool
	BloomFilterMinRecords    uint64
	BloomFilterFalsePositive float64

	// OpenRetry bounds how long Open waits for another process to
	// release the file's advisory lock (SPEC_FULL.md §4.12).
	OpenRetry retryopen.Policy

	// LevelSeed seeds the randomized level picker; 0 seeds from the
	// clock, matching design note "Random level selection".
	LevelSeed int64

	MinRewrite   uint64
	RewriteRatio float64
}

// DefaultOptions returns the spec's default tunables: no compression, no
// bloom filter, '.' as the mailbox separator, a warn-level stderr logger.
func DefaultOptions() Options {
	return Options{
		MailboxSeparator:         '.',
		Logger:                   logging.NewDefaultLogger(logging.LevelWarn),
		Compression:              valuecodec.None,
		CompressionMinSize:       256,
		BloomFilterMinRecords:    10000,
		BloomFilterFalsePositive: 0.01,
		OpenRetry:                retryopen.DefaultPolicy(),
		MinRewrite:               MinRewriteDefault,
		RewriteRatio:             RewriteRatioDefault,
	}
}

// fileOptions is the HuJSON-decodable shadow of Options (SPEC_FULL.md
// §6.3: "Options can additionally be loaded from a HuJSON config file").
type fileOptions struct {
	Create                   bool    `json:"create"`
	MboxSort                 bool    `json:"mbox_sort"`
	MailboxSeparator         string  `json:"mailbox_separator"`
	Compression              string  `json:"compression"`
	CompressionMinSize       int     `json:"compression_min_size"`
	BloomFilter              bool    `json:"bloom_filter"`
	BloomFilterMinRecords    uint64  `json:"bloom_filter_min_records"`
	BloomFilterFalsePositive float64 `json:"bloom_filter_false_positive"`
	MinRewrite               uint64  `json:"min_rewrite"`
	RewriteRatio             float64 `json:"rewrite_ratio"`
}

// LoadOptionsFile reads a HuJSON (JSON with comments and trailing commas)
// config file and layers it over DefaultOptions.
func LoadOptionsFile(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("twoskip: read config %s: %w", path, err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return Options{}, fmt.Errorf("twoskip: parse config %s: %w", path, err)
	}
	var fc fileOptions
	if err := json.Unmarshal(std, &fc); err != nil {
		return Options{}, fmt.Errorf("twoskip: decode config %s: %w", path, err)
	}

	opts := DefaultOptions()
	if fc.Create {
		opts.Flags |= FlagCreate
	}
	if fc.MboxSort {
		opts.Flags |= FlagMboxSort
	}
	if fc.MailboxSeparator != "" {
		opts.MailboxSeparator = fc.MailboxSeparator[0]
	}
	switch fc.Compression {
	case "snappy":
		opts.Compression = valuecodec.Snappy
	case "zstd":
		opts.Compression = valuecodec.Zstd
	case "lz4":
		opts.Compression = valuecodec.LZ4
	case "", "none":
		opts.Compression = valuecodec.None
	default:
		return Options{}, fmt.Errorf("twoskip: config %s: unknown compression %q", path, fc.Compression)
	}
	if fc.CompressionMinSize > 0 {
		opts.CompressionMinSize = fc.CompressionMinSize
	}
	opts.BloomFilter = fc.BloomFilter
	if fc.BloomFilterMinRecords > 0 {
		opts.BloomFilterMinRecords = fc.BloomFilterMinRecords
	}
	if fc.BloomFilterFalsePositive > 0 {
		opts.BloomFilterFalsePositive = fc.BloomFilterFalsePositive
	}
	if fc.MinRewrite > 0 {
		opts.MinRewrite = fc.MinRewrite
	}
	if fc.RewriteRatio > 0 {
		opts.RewriteRatio = fc.RewriteRatio
	}
	return opts, nil
}
