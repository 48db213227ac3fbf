// Package hostgroup runs the apt module against several hosts at once.
package hostgroup

import (
	"context"
	"fmt"
	"sort"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/steelcutops/aptstate/aptstate"
	"github.com/steelcutops/aptstate/aptstate/host"
	"github.com/steelcutops/aptstate/aptstate/params"
)

type HostGroup struct {
	sync.RWMutex
	Hosts map[string]*host.Host
}

// HostResult pairs a host with the outcome of its run.
type HostResult struct {
	Hostname string `json:"host"`
	aptstate.Result
}

// NewHostGroup creates a new HostGroup with the given hosts.
func NewHostGroup(hosts ...*host.Host) *HostGroup {
	hostMap := make(map[string]*host.Host)
	for _, h := range hosts {
		hostMap[h.Hostname] = h
	}
	return &HostGroup{Hosts: hostMap}
}

// AddHost adds a host to the HostGroup.
func (hg *HostGroup) AddHost(h *host.Host) {
	hg.Lock()
	defer hg.Unlock()
	hg.Hosts[h.Hostname] = h
}

// Apply calls action for every host, at most concurrency at a time. Each
// host only ever sees one action at a time. Failures are collected into a
// *multierror.Error. Hosts still waiting for a slot when ctx is done are
// not acted on.
func (hg *HostGroup) Apply(ctx context.Context, concurrency int, action func(context.Context, *host.Host) error) error {
	return hg.apply(ctx, concurrency, action, nil)
}

// apply also hands every host passed over because of ctx to skipped.
func (hg *HostGroup) apply(ctx context.Context, concurrency int, action func(context.Context, *host.Host) error, skipped func(*host.Host, error)) error {
	if concurrency < 1 {
		concurrency = 1
	}

	hg.RLock()
	hosts := make([]*host.Host, 0, len(hg.Hosts))
	for _, h := range hg.Hosts {
		hosts = append(hosts, h)
	}
	hg.RUnlock()

	sem := make(chan struct{}, concurrency)
	errCh := make(chan error, len(hosts))
	var wg sync.WaitGroup

	for _, hst := range hosts {
		wg.Add(1)
		go func(h *host.Host) {
			defer wg.Done()
			cancelled := func() {
				err := fmt.Errorf("host %s: %w", h.Hostname, ctx.Err())
				if skipped != nil {
					skipped(h, err)
				}
				errCh <- err
			}
			if ctx.Err() != nil {
				cancelled()
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				cancelled()
				return
			}
			defer func() { <-sem }()

			if err := action(ctx, h); err != nil {
				errCh <- fmt.Errorf("host %s: %w", h.Hostname, err)
			}
		}(hst)
	}

	wg.Wait()
	close(errCh)

	var result *multierror.Error
	for err := range errCh {
		result = multierror.Append(result, err)
	}
	if result != nil {
		sort.Slice(result.Errors, func(i, j int) bool {
			return result.Errors[i].Error() < result.Errors[j].Error()
		})
	}
	return result.ErrorOrNil()
}

// Ensure runs the module with p on every host. Results come back sorted by
// hostname, failed and cancelled hosts included.
func (hg *HostGroup) Ensure(ctx context.Context, concurrency int, p params.Params) ([]HostResult, error) {
	var mu sync.Mutex
	var results []HostResult
	record := func(h *host.Host, result aptstate.Result) {
		mu.Lock()
		results = append(results, HostResult{Hostname: h.Hostname, Result: result})
		mu.Unlock()
	}

	err := hg.apply(ctx, concurrency, func(ctx context.Context, h *host.Host) error {
		result, err := h.StateManager.Ensure(ctx, p)
		if err != nil && !result.Failed {
			result = result.Fail(err)
		}
		record(h, result)
		return err
	}, func(h *host.Host, err error) {
		record(h, aptstate.Result{}.Fail(err))
	})

	sort.Slice(results, func(i, j int) bool {
		return results[i].Hostname < results[j].Hostname
	})
	return results, err
}
