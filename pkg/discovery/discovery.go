package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/example/storefront/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// ErrNoFreeWorker is returned when every worker id of a datacenter is leased.
var ErrNoFreeWorker = errors.New("no free worker id")

const maxWorkerID = 31

type ServiceDiscovery struct {
	client *clientv3.Client
	config *config.EtcdConfig
	logger *zap.Logger
}

type ServiceInstance struct {
	Name string
	Host string
	Port int
}

func (i *ServiceInstance) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

func NewServiceDiscovery(cfg *config.EtcdConfig, logger *zap.Logger) (*ServiceDiscovery, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &ServiceDiscovery{
		client: cli,
		config: cfg,
		logger: logger.Named("discovery"),
	}, nil
}

func serviceKey(prefix string, instance *ServiceInstance) string {
	return fmt.Sprintf("%sservices/%s/%s", prefix, instance.Name, instance.Addr())
}

func workerKey(prefix string, datacenterID, workerID int64) string {
	return fmt.Sprintf("%sidgen/%d/%d", prefix, datacenterID, workerID)
}

// grant creates a lease and keeps it alive until ctx is done. The returned
// channel is closed if the lease is lost while ctx is still live.
func (sd *ServiceDiscovery) grant(ctx context.Context) (clientv3.LeaseID, <-chan struct{}, error) {
	lease, err := sd.client.Grant(ctx, sd.config.LeaseTTL)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create lease: %w", err)
	}

	ch, err := sd.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to keep alive: %w", err)
	}

	lost := watchLease(ctx, ch)
	go func() {
		select {
		case <-lost:
			sd.logger.Warn("Lease lost", zap.Int64("lease", int64(lease.ID)))
		case <-ctx.Done():
			sd.logger.Debug("Lease keep-alive stopped", zap.Int64("lease", int64(lease.ID)))
		}
	}()

	return lease.ID, lost, nil
}

// watchLease drains keep-alive responses and closes the returned channel when
// they stop arriving before ctx is done.
func watchLease(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		for range ch {
		}
		if ctx.Err() == nil {
			close(lost)
		}
	}()
	return lost
}

// Register announces the instance for as long as ctx lives.
func (sd *ServiceDiscovery) Register(ctx context.Context, instance *ServiceInstance) error {
	lease, _, err := sd.grant(ctx)
	if err != nil {
		return err
	}

	if _, err := sd.client.Put(ctx, serviceKey(sd.config.Prefix, instance), instance.Addr(), clientv3.WithLease(lease)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	sd.logger.Info("Service registered", zap.String("name", instance.Name), zap.String("addr", instance.Addr()))
	return nil
}

func (sd *ServiceDiscovery) Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error) {
	key := fmt.Sprintf("%sservices/%s/", sd.config.Prefix, serviceName)

	resp, err := sd.client.Get(ctx, key, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover service: %w", err)
	}

	instances := make([]*ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		instance, err := parseInstance(serviceName, string(kv.Value))
		if err != nil {
			sd.logger.Warn("Skipping malformed instance", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

func parseInstance(name, addr string) (*ServiceInstance, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", port, err)
	}
	return &ServiceInstance{Name: name, Host: host, Port: p}, nil
}

func (sd *ServiceDiscovery) Deregister(ctx context.Context, instance *ServiceInstance) error {
	if _, err := sd.client.Delete(ctx, serviceKey(sd.config.Prefix, instance)); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}

// WorkerClaim is a leased snowflake worker id.
type WorkerClaim struct {
	ID   int64
	lost <-chan struct{}
}

// Lost is closed when the lease backing the claim expires or can no longer be
// renewed. Another process may then claim the same id.
func (c *WorkerClaim) Lost() <-chan struct{} {
	return c.lost
}

// ClaimWorkerID leases the lowest free snowflake worker id for datacenterID.
// The claim is released when ctx is done or the process stops renewing it.
func (sd *ServiceDiscovery) ClaimWorkerID(ctx context.Context, datacenterID int64) (*WorkerClaim, error) {
	lease, lost, err := sd.grant(ctx)
	if err != nil {
		return nil, err
	}

	for id := int64(0); id <= maxWorkerID; id++ {
		key := workerKey(sd.config.Prefix, datacenterID, id)
		resp, err := sd.client.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
			Then(clientv3.OpPut(key, strconv.FormatInt(int64(lease), 16), clientv3.WithLease(lease))).
			Commit()
		if err != nil {
			return nil, fmt.Errorf("failed to claim worker id: %w", err)
		}
		if resp.Succeeded {
			sd.logger.Info("Worker id claimed", zap.Int64("datacenter_id", datacenterID), zap.Int64("worker_id", id))
			return &WorkerClaim{ID: id, lost: lost}, nil
		}
	}

	if _, err := sd.client.Revoke(context.WithoutCancel(ctx), lease); err != nil {
		sd.logger.Warn("Failed to revoke unused lease", zap.Error(err))
	}
	return nil, ErrNoFreeWorker
}

func (sd *ServiceDiscovery) Close() error {
	return sd.client.Close()
}
