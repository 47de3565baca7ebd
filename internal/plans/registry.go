// Package plans holds the catalog of purchasable subscription plans.
package plans

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// DaysPerMonth converts purchased months to subscription days.
const DaysPerMonth = 30

type Plan struct {
	ID       string `yaml:"id" json:"id"`
	Title    string `yaml:"title" json:"title"`
	Months   int    `yaml:"months" json:"months"`
	Days     int    `yaml:"days" json:"days,omitempty"`
	Price    int64  `yaml:"price" json:"price"`
	Currency string `yaml:"currency" json:"currency"`
}

// DurationDays is Days when set, otherwise Months worth of days.
func (p Plan) DurationDays() int {
	if p.Days > 0 {
		return p.Days
	}
	return p.Months * DaysPerMonth
}

type File struct {
	Plans []Plan `yaml:"plans"`
}

// Defaults is the catalog used when no plans file exists.
func Defaults() []Plan {
	return []Plan{
		{ID: "1m", Title: "1 month", Months: 1, Price: 500, Currency: "RUB"},
		{ID: "3m", Title: "3 months", Months: 3, Price: 1350, Currency: "RUB"},
		{ID: "12m", Title: "12 months", Months: 12, Price: 4800, Currency: "RUB"},
	}
}

type Registry struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

func NewRegistry(plans []Plan) *Registry {
	r := &Registry{}
	r.Replace(plans)
	return r
}

// LoadFromFile reads the catalog at path, falling back to Defaults when the
// file does not exist.
func LoadFromFile(path string) (*Registry, error) {
	plans, err := readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRegistry(Defaults()), nil
	}
	if err != nil {
		return nil, err
	}
	return NewRegistry(plans), nil
}

func readFile(path string) ([]Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans file: %w", err)
	}
	if err := validate(file.Plans); err != nil {
		return nil, err
	}
	return file.Plans, nil
}

func validate(plans []Plan) error {
	if len(plans) == 0 {
		return errors.New("plans file defines no plans")
	}
	seen := make(map[string]bool, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return errors.New("plan without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate plan id %q", p.ID)
		}
		seen[p.ID] = true
		if p.DurationDays() <= 0 {
			return fmt.Errorf("plan %q has no duration", p.ID)
		}
	}
	return nil
}

// Replace swaps the whole catalog atomically.
func (r *Registry) Replace(plans []Plan) {
	m := make(map[string]Plan, len(plans))
	for _, p := range plans {
		m[p.ID] = p
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = m
}

func (r *Registry) Get(id string) (Plan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plans[id]
	return p, ok
}

// All returns the catalog ordered by duration.
func (r *Registry) All() []Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DurationDays() == result[j].DurationDays() {
			return result[i].ID < result[j].ID
		}
		return result[i].DurationDays() < result[j].DurationDays()
	})
	return result
}
