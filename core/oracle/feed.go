package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ErrNoRate is returned when no rate is configured for a pair.
var ErrNoRate = errors.New("oracle: no rate for pair")

// Pair identifies a from/to conversion.
type Pair struct {
	From string
	To   string
}

type rate struct {
	num *big.Int
	den *big.Int
}

// Feed is a static table of conversion ratios. It satisfies the ratio source
// used by converted reward recognition and is safe for concurrent use.
type Feed struct {
	mu    sync.RWMutex
	rates map[Pair]rate
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{rates: make(map[Pair]rate)}
}

// Set installs the ratio num/den for from -> to.
func (f *Feed) Set(from, to string, num, den *big.Int) error {
	pair := normalizePair(from, to)
	if pair.From == "" || pair.To == "" {
		return errors.New("oracle: pair assets required")
	}
	if num == nil || den == nil || num.Sign() <= 0 || den.Sign() <= 0 {
		return fmt.Errorf("oracle: ratio for %s/%s must be positive", pair.From, pair.To)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[pair] = rate{num: new(big.Int).Set(num), den: new(big.Int).Set(den)}
	return nil
}

// Ratio returns how many units of to one unit of from is worth. A configured
// reverse pair is inverted.
func (f *Feed) Ratio(from, to string) (*big.Int, *big.Int, error) {
	pair := normalizePair(from, to)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.rates[pair]; ok {
		return new(big.Int).Set(r.num), new(big.Int).Set(r.den), nil
	}
	if r, ok := f.rates[Pair{From: pair.To, To: pair.From}]; ok {
		return new(big.Int).Set(r.den), new(big.Int).Set(r.num), nil
	}
	return nil, nil, fmt.Errorf("%w %s/%s", ErrNoRate, pair.From, pair.To)
}

// Pairs lists the configured pairs.
func (f *Feed) Pairs() []Pair {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Pair, 0, len(f.rates))
	for p := range f.rates {
		out = append(out, p)
	}
	return out
}

func normalizePair(from, to string) Pair {
	return Pair{From: strings.TrimSpace(from), To: strings.TrimSpace(to)}
}

type fileFeed struct {
	Rates []fileRate `json:"rates" toml:"rates"`
}

type fileRate struct {
	From string `json:"from" toml:"from"`
	To   string `json:"to" toml:"to"`
	Num  string `json:"num" toml:"num"`
	Den  string `json:"den" toml:"den"`
}

// LoadFeed reads a rate table from a TOML or JSON file.
func LoadFeed(path string) (*Feed, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("oracle: feed path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oracle: read feed: %w", err)
	}
	var parsed fileFeed
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("oracle: decode feed json: %w", err)
		}
	case ".toml", ".tml":
		meta, err := toml.DecodeReader(bytes.NewReader(data), &parsed)
		if err != nil {
			return nil, fmt.Errorf("oracle: decode feed toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("oracle: unknown feed fields %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("oracle: unsupported feed format %q", ext)
	}
	feed := NewFeed()
	for i, entry := range parsed.Rates {
		num, ok := new(big.Int).SetString(strings.TrimSpace(entry.Num), 10)
		if !ok {
			return nil, fmt.Errorf("oracle: rate %d numerator invalid", i)
		}
		den, ok := new(big.Int).SetString(strings.TrimSpace(entry.Den), 10)
		if !ok {
			return nil, fmt.Errorf("oracle: rate %d denominator invalid", i)
		}
		if err := feed.Set(entry.From, entry.To, num, den); err != nil {
			return nil, fmt.Errorf("oracle: rate %d: %w", i, err)
		}
	}
	return feed, nil
}
