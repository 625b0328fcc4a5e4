// Package servicemanager runs the node services: each one is initialised in registration
// order, started once the previous one is running, and stopped in reverse order.
package servicemanager

import (
	"context"
	"net/http"
	"time"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/ulogger"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

// Service is a long-running part of the node.
type Service interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	Init(ctx context.Context) error
	// Start blocks until ctx is done; readyCh is closed once the service serves requests.
	Start(ctx context.Context, readyCh chan<- struct{}) error
	Stop(ctx context.Context) error
}

type serviceWrapper struct {
	name     string
	instance Service
	readyCh  chan struct{}
}

type ServiceManager struct {
	services     []*serviceWrapper
	logger       ulogger.Logger
	Ctx          context.Context
	cancelFunc   context.CancelFunc
	g            *errgroup.Group
	startTimeout time.Duration
}

func NewServiceManager(ctx context.Context, logger ulogger.Logger) *ServiceManager {
	ctx, cancelFunc := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	return &ServiceManager{
		logger:       logger,
		Ctx:          ctx,
		cancelFunc:   cancelFunc,
		g:            g,
		startTimeout: 5 * time.Second,
	}
}

// AddService initialises the service and starts it as soon as the previously added service
// reported ready.
func (sm *ServiceManager) AddService(name string, service Service) error {
	var previous *serviceWrapper
	if len(sm.services) > 0 {
		previous = sm.services[len(sm.services)-1]
	}

	sw := &serviceWrapper{
		name:     name,
		instance: service,
		readyCh:  make(chan struct{}),
	}

	sm.logger.Infof("[ServiceManager] initializing service %s", name)

	if err := service.Init(sm.Ctx); err != nil {
		return errors.NewServiceError("could not initialize %s", name, err)
	}

	sm.services = append(sm.services, sw)

	sm.g.Go(func() error {
		if previous != nil {
			if err := sm.waitForReady(previous); err != nil {
				return err
			}
		}

		sm.logger.Infof("[ServiceManager] starting service %s", name)

		if err := service.Start(sm.Ctx, sw.readyCh); err != nil {
			sm.logger.Errorf("[ServiceManager] service %s failed: %v", name, err)
			return err
		}

		return nil
	})

	return nil
}

func (sm *ServiceManager) waitForReady(sw *serviceWrapper) error {
	timer := time.NewTimer(sm.startTimeout)
	defer timer.Stop()

	select {
	case <-sw.readyCh:
		return nil
	case <-sm.Ctx.Done():
		return sm.Ctx.Err()
	case <-timer.C:
		return errors.NewServiceError("timed out waiting for %s to start", sw.name)
	}
}

// WaitForServiceToBeReady blocks until every service reported ready or ctx is done.
func (sm *ServiceManager) WaitForServiceToBeReady(ctx context.Context) error {
	for _, sw := range sm.services {
		select {
		case <-sw.readyCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// ServicesNotReady lists the services that have not reported ready yet.
func (sm *ServiceManager) ServicesNotReady() []string {
	notReady := make([]string, 0)

	for _, sw := range sm.services {
		select {
		case <-sw.readyCh:
		default:
			notReady = append(notReady, sw.name)
		}
	}

	return notReady
}

func (sm *ServiceManager) ForceShutdown() {
	sm.cancelFunc()
}

// Wait blocks until every service returned, then stops them in reverse order. A shutdown
// through context cancellation is not an error.
func (sm *ServiceManager) Wait() error {
	err := sm.g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		sm.logger.Errorf("[ServiceManager] received error: %v", err)
	}

	for i := len(sm.services) - 1; i >= 0; i-- {
		sw := sm.services[i]

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)

		if stopErr := sw.instance.Stop(stopCtx); stopErr != nil {
			sm.logger.Warnf("[ServiceManager] could not stop %s: %v", sw.name, stopErr)
		} else {
			sm.logger.Infof("[ServiceManager] service %s stopped", sw.name)
		}

		stopCancel()
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

type serviceHealth struct {
	Service string              `json:"service"`
	Status  int                 `json:"status"`
	Details jsoniter.RawMessage `json:"details,omitempty"`
	Message string              `json:"message,omitempty"`
}

// HealthHandler aggregates the health of every service, 503 if any is unhealthy.
func (sm *ServiceManager) HealthHandler(ctx context.Context, checkLiveness bool) (int, string, error) {
	overall := http.StatusOK
	services := make([]serviceHealth, 0, len(sm.services))

	for _, sw := range sm.services {
		status, details, err := sw.instance.Health(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			overall = http.StatusServiceUnavailable
		}

		h := serviceHealth{Service: sw.name, Status: status}
		if jsoniter.Valid([]byte(details)) {
			h.Details = jsoniter.RawMessage(details)
		} else {
			h.Message = details
		}

		services = append(services, h)
	}

	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(map[string]interface{}{
		"status":   overall,
		"services": services,
	}, "", "  ")
	if err != nil {
		return http.StatusInternalServerError, "", err
	}

	return overall, string(body), nil
}
