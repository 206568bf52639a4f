package streamaggregator

import (
	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/manager"
	"Go2FlowSpectra/internal/model"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// StreamAggregator consumes wire records from NATS and hands them to a Manager.
// Each message carries exactly one framed record.
type StreamAggregator struct {
	nc          *nats.Conn
	sub         *nats.Subscription
	manager     *manager.Manager
	natsURL     string
	natsSubject string
}

// NewStreamAggregator creates a new real-time stream aggregator.
func NewStreamAggregator(cfg *config.Config) (*StreamAggregator, error) {
	mgr, err := manager.NewManager(cfg)
	if err != nil {
		return nil, err
	}

	return &StreamAggregator{
		manager:     mgr,
		natsURL:     cfg.Probe.NATSURL,
		natsSubject: cfg.Probe.Subject,
	}, nil
}

// Tasks returns the tasks run by the underlying manager.
func (sa *StreamAggregator) Tasks() []model.Task {
	return sa.manager.Tasks()
}

// Start connects to NATS, starts the underlying manager, and begins processing messages.
func (sa *StreamAggregator) Start() error {
	log.Println("StreamAggregator starting for nats: ", sa.natsURL)
	nc, err := nats.Connect(sa.natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	sa.nc = nc

	// The manager starts its own worker pool and snapshotters.
	sa.manager.Start()

	sa.sub, err = sa.nc.Subscribe(sa.natsSubject, sa.handleRecord)
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", sa.natsSubject, err)
	}
	log.Printf("StreamAggregator subscribed to '%s'", sa.natsSubject)
	return nil
}

// Stop gracefully shuts down the aggregator.
func (sa *StreamAggregator) Stop() {
	log.Println("StreamAggregator stopping...")
	if sa.sub != nil {
		sa.sub.Unsubscribe()
	}
	if sa.nc != nil {
		sa.nc.Close()
	}
	// Stop the underlying manager, which will close the input channel
	// and wait for workers to finish before taking a final snapshot.
	sa.manager.Stop()
	log.Println("StreamAggregator stopped.")
}

// handleRecord passes the message payload to the manager. The NATS client reuses
// no message buffers, so the payload is handed over without a copy.
func (sa *StreamAggregator) handleRecord(msg *nats.Msg) {
	if len(msg.Data) == 0 {
		return
	}
	sa.manager.Submit(msg.Data)
}
