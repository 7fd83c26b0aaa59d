package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/walletmesh/wallet-indexer/pkg/common/logger"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
)

// Emitter publishes newly persisted transactions for downstream consumers.
// Emit failures never block ingestion; the ledger is the source of truth.
type Emitter interface {
	EmitTransaction(network string, tx *types.Transaction) error
	Close()
}

type natsEmitter struct {
	nc            *nats.Conn
	subjectPrefix string
}

// NewNATSEmitter connects to NATS with endless reconnects and returns an
// emitter publishing to "<prefix>.transaction".
func NewNATSEmitter(url, subjectPrefix string) (Emitter, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectHandler(func(nc *nats.Conn) {
			logger.L().Warn("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.L().Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &natsEmitter{nc: nc, subjectPrefix: subjectPrefix}, nil
}

func (e *natsEmitter) EmitTransaction(network string, tx *types.Transaction) error {
	data, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.transaction.%s", e.subjectPrefix, types.NormalizeNetworkKey(network))
	return e.nc.Publish(subject, data)
}

func (e *natsEmitter) Close() {
	e.nc.Close()
}

type noopEmitter struct{}

// NewNoop returns an emitter that drops everything. Used when NATS is
// disabled and in tests.
func NewNoop() Emitter { return noopEmitter{} }

func (noopEmitter) EmitTransaction(string, *types.Transaction) error { return nil }
func (noopEmitter) Close()                                           {}
