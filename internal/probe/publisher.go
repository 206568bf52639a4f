package probe

import (
	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/protocol"
	"Go2FlowSpectra/internal/model"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Publisher publishes framed wire records to a NATS subject, one record per
// message.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Frame returns the single record at the start of buf, checked against its
// header length.
func Frame(buf []byte) ([]byte, error) {
	hdr, err := protocol.ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	size := int(hdr.Words) * 4
	if size > len(buf) {
		return nil, fmt.Errorf("%w: header claims %d bytes, have %d", protocol.ErrTruncatedRecord, size, len(buf))
	}
	return buf[:size], nil
}

// Publish sends one framed record. Bytes past the record length are not sent.
func (p *Publisher) Publish(buf []byte) error {
	rec, err := Frame(buf)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, rec)
}

// PublishRecord encodes rec and publishes it.
func (p *Publisher) PublishRecord(rec *model.Record) error {
	buf, err := protocol.Encode(rec)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, buf)
}

// Flush waits until the server has processed everything published so far.
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
