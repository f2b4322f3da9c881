package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GPTx-global/flightsurety/oracle/log"
)

// Check is one named probe.
type Check interface {
	Check(ctx context.Context) error
	Name() string
}

// Status is the last outcome of a check.
type Status struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"lastCheck"`
	LastError string    `json:"lastError,omitempty"`
}

// Checker runs its checks on an interval and keeps their last status.
type Checker struct {
	mu       sync.RWMutex
	checks   map[string]Check
	status   map[string]Status
	interval time.Duration
}

func NewChecker(interval time.Duration) *Checker {
	return &Checker{
		checks:   make(map[string]Check),
		status:   make(map[string]Status),
		interval: interval,
	}
}

// AddCheck registers check. Until it first runs it counts as unhealthy.
func (c *Checker) AddCheck(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := check.Name()
	c.checks[name] = check
	c.status[name] = Status{
		Healthy:   false,
		LastError: "not checked yet",
	}

	log.Debugf("added health check: %s", name)
}

// Start runs every check immediately and then on each tick until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			c.RunChecks(ctx)
		case <-ctx.Done():
			log.Debugf("health checker stopped")
			return
		}
	}
}

// RunChecks runs every check concurrently and waits for all of them.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make([]Check, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()

			err := check.Check(ctx)
			status := Status{Healthy: err == nil, LastCheck: time.Now()}
			if err != nil {
				status.LastError = err.Error()
				log.Warnf("health check failed - %s: %v", check.Name(), err)
			}

			c.mu.Lock()
			c.status[check.Name()] = status
			c.mu.Unlock()
		}(check)
	}
	wg.Wait()
}

func (c *Checker) GetStatus() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]Status, len(c.status))
	for name, status := range c.status {
		result[name] = status
	}

	return result
}

func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, status := range c.status {
		if !status.Healthy {
			return false
		}
	}

	return true
}

// Err summarizes the failing checks, or returns nil when all pass.
func (c *Checker) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var failing []string
	for name, status := range c.status {
		if !status.Healthy {
			failing = append(failing, fmt.Sprintf("%s: %s", name, status.LastError))
		}
	}
	if len(failing) == 0 {
		return nil
	}
	sort.Strings(failing)

	return fmt.Errorf("unhealthy: %s", strings.Join(failing, "; "))
}

// FuncCheck adapts a function to Check.
type FuncCheck struct {
	name      string
	checkFunc func(ctx context.Context) error
}

func NewFuncCheck(name string, checkFunc func(ctx context.Context) error) *FuncCheck {
	return &FuncCheck{
		name:      name,
		checkFunc: checkFunc,
	}
}

func (f *FuncCheck) Check(ctx context.Context) error {
	return f.checkFunc(ctx)
}

func (f *FuncCheck) Name() string {
	return f.name
}
