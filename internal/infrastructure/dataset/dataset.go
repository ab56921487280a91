package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

type HistoryEntry struct {
	City       string  `yaml:"city"`
	Period     string  `yaml:"period"`
	IndexValue float64 `yaml:"index_value"`
}

// File is the YAML layout of an offline dataset.
type File struct {
	Stores    []domain.Store         `yaml:"stores"`
	Products  []domain.Product       `yaml:"products"`
	Snapshots []domain.PriceSnapshot `yaml:"snapshots"`
	History   []HistoryEntry         `yaml:"history"`
	Weights   map[string]float64     `yaml:"weights"`
}

// Dataset serves a loaded File through the snapshot, catalog and index ports.
// Computed results are kept in memory.
type Dataset struct {
	file       File
	storeCity  map[string]string
	mu         sync.RWMutex
	results    map[string]*domain.IndexResult
	resultKeys []string
}

func Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Parse(bytes.NewReader(raw))
}

func Parse(r io.Reader) (*Dataset, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse dataset", err)
	}
	return New(file)
}

func New(file File) (*Dataset, error) {
	d := &Dataset{
		file:      file,
		storeCity: make(map[string]string, len(file.Stores)),
		results:   make(map[string]*domain.IndexResult),
	}
	for _, st := range file.Stores {
		if st.ID == "" || st.City == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "load dataset", fmt.Errorf("store %q needs id and city", st.ID))
		}
		d.storeCity[st.ID] = st.City
	}
	for _, p := range file.Products {
		if p.ID == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "load dataset", errors.New("product without id"))
		}
	}
	for i, s := range file.Snapshots {
		if _, ok := d.storeCity[s.StoreID]; !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "load dataset", fmt.Errorf("snapshot %d references unknown store %q", i, s.StoreID))
		}
	}
	for _, h := range file.History {
		period, err := domain.ParsePeriod(h.Period)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "load dataset", fmt.Errorf("history period %q: %w", h.Period, err))
		}
		d.put(&domain.IndexResult{City: h.City, Period: period.String(), IndexValue: h.IndexValue})
	}
	return d, nil
}

func (d *Dataset) Stores() []domain.Store {
	return d.file.Stores
}

func (d *Dataset) Products() []domain.Product {
	return d.file.Products
}

func (d *Dataset) Snapshots() []domain.PriceSnapshot {
	return d.file.Snapshots
}

func (d *Dataset) Weights() map[string]float64 {
	return d.file.Weights
}

// Cities lists the distinct store cities in file order.
func (d *Dataset) Cities() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, st := range d.file.Stores {
		if _, ok := seen[st.City]; ok {
			continue
		}
		seen[st.City] = struct{}{}
		out = append(out, st.City)
	}
	return out
}

func (d *Dataset) ListSnapshots(_ context.Context, city string, from, to time.Time) ([]domain.PriceSnapshot, error) {
	out := make([]domain.PriceSnapshot, 0)
	for _, s := range d.file.Snapshots {
		if d.storeCity[s.StoreID] != city {
			continue
		}
		if s.Date.Before(from) || !s.Date.Before(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *Dataset) ListProducts(context.Context) ([]domain.Product, error) {
	return d.file.Products, nil
}

func (d *Dataset) SaveIndexResult(_ context.Context, result *domain.IndexResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.put(result)
	return nil
}

func (d *Dataset) GetIndexResult(_ context.Context, city, period string) (*domain.IndexResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result, ok := d.results[resultKey(city, period)]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get index result", fmt.Errorf("city=%s period=%s", city, period))
	}
	return result, nil
}

// Results returns stored results ordered by city and period.
func (d *Dataset) Results() []*domain.IndexResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := append([]string(nil), d.resultKeys...)
	sort.Strings(keys)
	out := make([]*domain.IndexResult, 0, len(keys))
	for _, key := range keys {
		out = append(out, d.results[key])
	}
	return out
}

func (d *Dataset) put(result *domain.IndexResult) {
	key := resultKey(result.City, result.Period)
	if _, ok := d.results[key]; !ok {
		d.resultKeys = append(d.resultKeys, key)
	}
	d.results[key] = result
}

func resultKey(city, period string) string {
	return city + "|" + period
}

// LoadWeights reads a category weight override file: a YAML mapping of category id
// to weight, optionally nested under a "weights" key.
func LoadWeights(path string) (map[string]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights file: %w", err)
	}
	var nested struct {
		Weights map[string]float64 `yaml:"weights"`
	}
	if err := yaml.Unmarshal(raw, &nested); err == nil && len(nested.Weights) > 0 {
		return nested.Weights, nil
	}
	var flat map[string]float64
	if err := yaml.Unmarshal(raw, &flat); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse weights file", err)
	}
	return flat, nil
}
