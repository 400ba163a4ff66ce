// Package registry is the self-managed service registry for
// processing instances. Each instance inserts its bound port at
// startup and deletes only its own row at shutdown; the ingress role
// reads all rows to discover live instances. There is no heartbeat:
// a crashed instance leaves a stale row, which the ingress fan-out
// skips over after a timeout.
package registry

import (
	"fmt"
	"net"

	"gorm.io/gorm"

	"github.com/softpaymoney/paygate/app/models"
)

// FallbackRangeSize is the number of ports probed above the base port
// when the registry has no rows yet.
const FallbackRangeSize = 10

// Registry manages handler-port rows in the ledger store.
type Registry struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// ListPorts returns all registered handler ports ordered ascending.
func (r *Registry) ListPorts() ([]int, error) {
	var rows []models.HandlerPort
	if err := r.db.Order("value ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	ports := make([]int, 0, len(rows))
	for _, row := range rows {
		ports = append(ports, row.Value)
	}
	return ports, nil
}

// PortsOrFallback returns the registered ports, or the static
// bootstrap range [base, base+FallbackRangeSize) when no instance has
// registered yet.
func (r *Registry) PortsOrFallback(base int) ([]int, error) {
	ports, err := r.ListPorts()
	if err != nil {
		return nil, err
	}
	if len(ports) > 0 {
		return ports, nil
	}
	return FallbackRange(base), nil
}

// FallbackRange builds the static bootstrap port list.
func FallbackRange(base int) []int {
	ports := make([]int, FallbackRangeSize)
	for i := range ports {
		ports[i] = base + i
	}
	return ports
}

// Register inserts the instance's port. The unique index on the port
// value makes concurrent startup races safe: the loser gets an error
// and probes the next port.
func (r *Registry) Register(port int) error {
	return r.db.Create(&models.HandlerPort{Value: port}).Error
}

// Deregister removes only this instance's own row.
func (r *Registry) Deregister(port int) error {
	return r.db.Where("value = ?", port).Delete(&models.HandlerPort{}).Error
}

// ClaimFreePort probes [base, base+FallbackRangeSize) for a port that
// can be bound locally and is not taken in the registry, registers it
// and returns it.
func (r *Registry) ClaimFreePort(base int) (int, error) {
	for i := 0; i < FallbackRangeSize; i++ {
		port := base + i
		if PortInUse(port) {
			continue
		}
		if err := r.Register(port); err != nil {
			// Taken by a concurrent instance; try the next one.
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("no free handler port in range %d..%d", base, base+FallbackRangeSize-1)
}

// PortInUse reports whether a local TCP port is already bound.
func PortInUse(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}
